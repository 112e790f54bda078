// Package metrics provides Prometheus metrics for the catalog service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Logical operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Per node write metrics
	NodeWrites     *prometheus.CounterVec
	DeferredWrites *prometheus.CounterVec
	NodeReachable  *prometheus.GaugeVec

	// Recovery metrics
	PendingEntries prometheus.Gauge
	DrainsTotal    *prometheus.CounterVec
	ReplaysTotal   *prometheus.CounterVec
	CorruptLines   prometheus.Counter
	LogWriteErrors prometheus.Counter

	// Read check metrics
	ReadRaces prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_operations_total",
				Help: "Total number of logical catalog operations",
			},
			[]string{"operation", "outcome"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_operation_duration_seconds",
				Help:    "Duration of logical catalog operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		NodeWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_node_writes_total",
				Help: "Total number of physical writes per node",
			},
			[]string{"node", "action", "status"},
		),

		DeferredWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_deferred_writes_total",
				Help: "Total number of physical writes deferred to the recovery log",
			},
			[]string{"node", "action"},
		),

		NodeReachable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_node_reachable",
				Help: "Last probe result per node (1 = reachable, 0 = unreachable)",
			},
			[]string{"node"},
		),

		PendingEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_recovery_log_pending",
				Help: "Number of entries waiting in the recovery log",
			},
		),

		DrainsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_recovery_drains_total",
				Help: "Total number of recovery passes by result",
			},
			[]string{"result"},
		),

		ReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_recovery_replays_total",
				Help: "Total number of log entry replays by node and result",
			},
			[]string{"node", "result"},
		),

		CorruptLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_recovery_log_corrupt_total",
				Help: "Total number of corrupt recovery log lines skipped",
			},
		),

		LogWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_recovery_log_write_errors_total",
				Help: "Total number of failed recovery log appends or rewrites",
			},
		),

		ReadRaces: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_read_races_total",
				Help: "Total number of reads that observed a concurrent modification",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		HTTPInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
	}
}

// RecordOperation records a logical operation and its outcome
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordNodeWrite records a physical write against a node
func (m *Metrics) RecordNodeWrite(node, action, status string) {
	if m == nil {
		return
	}
	m.NodeWrites.WithLabelValues(node, action, status).Inc()
}

// RecordDeferred records a write handed to the recovery log
func (m *Metrics) RecordDeferred(node, action string) {
	if m == nil {
		return
	}
	m.DeferredWrites.WithLabelValues(node, action).Inc()
}

// SetNodeReachable records the last probe result for a node
func (m *Metrics) SetNodeReachable(node string, reachable bool) {
	if m == nil {
		return
	}
	if reachable {
		m.NodeReachable.WithLabelValues(node).Set(1)
	} else {
		m.NodeReachable.WithLabelValues(node).Set(0)
	}
}

// SetPending updates the pending entry gauge
func (m *Metrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.PendingEntries.Set(float64(count))
}

// RecordDrain records the result of a recovery pass
func (m *Metrics) RecordDrain(result string) {
	if m == nil {
		return
	}
	m.DrainsTotal.WithLabelValues(result).Inc()
}

// RecordReplay records the result of one entry replay
func (m *Metrics) RecordReplay(node, result string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(node, result).Inc()
}

// RecordCorrupt adds skipped corrupt lines
func (m *Metrics) RecordCorrupt(count int) {
	if m == nil || count == 0 {
		return
	}
	m.CorruptLines.Add(float64(count))
}

// RecordLogWriteError records a failed log append or rewrite
func (m *Metrics) RecordLogWriteError() {
	if m == nil {
		return
	}
	m.LogWriteErrors.Inc()
}

// RecordReadRace records a read whose re-read differed from the first read
func (m *Metrics) RecordReadRace() {
	if m == nil {
		return
	}
	m.ReadRaces.Inc()
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// MetricsServer provides a separate HTTP server for Prometheus metrics
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware records HTTP metrics labelled by the matched route template
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			m.HTTPInFlight.Inc()
			defer m.HTTPInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, routeTemplate(r), rw.statusCode, time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
