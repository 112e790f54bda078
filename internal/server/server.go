// Package server provides the HTTP server of the catalog API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/gamecatalog/internal/config"
	apierrors "github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/handler"
	"github.com/devrev/gamecatalog/internal/health"
	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthChecker
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server and registers its routes. m may be nil.
func NewServer(
	cfg *config.Config,
	catalog handler.Catalog,
	healthCheck *health.HealthChecker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)

	s := &Server{
		router:       router,
		handlers:     handler.NewHandlers(catalog, errorHandler, cfg.Recovery.DrainOnRequest, logger),
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.errorHandler, s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS([]string{"*"}),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.metrics))
	}
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.errorHandler,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}
	middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Write.Timeout*2))

	s.router.Use(mux.MiddlewareFunc(middleware.Chain(middlewareChain...)))

	if s.healthCheck != nil {
		s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	}

	// subrouters answer a method mismatch with 404, so every route sits on the root router
	s.router.HandleFunc("/v1/records", s.handlers.InsertRecord).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/records", s.handlers.ListRecords).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/records/{id}", s.handlers.GetRecord).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/records/{id}", s.handlers.UpdateRecord).Methods(http.MethodPut)
	s.router.HandleFunc("/v1/records/{id}", s.handlers.DeleteRecord).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/records/{id}/exists", s.handlers.RecordExists).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/recovery/drain", s.handlers.DrainRecovery).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/recovery/pending", s.handlers.PendingRecovery).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrCodeInvalidRequest,
			"endpoint not found", r.Header.Get("X-Request-ID"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrCodeInvalidRequest,
			"method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
