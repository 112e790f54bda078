// Package main provides the entry point for the game catalog service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/devrev/gamecatalog/internal/config"
	"github.com/devrev/gamecatalog/internal/health"
	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/server"
	"github.com/devrev/gamecatalog/internal/service"
	"github.com/devrev/gamecatalog/internal/store"
	"github.com/devrev/gamecatalog/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const ledgerMaxSize = 100000

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting game catalog service",
		zap.Int("port", cfg.Server.Port),
		zap.String("central", cfg.Nodes.Central.Driver),
		zap.String("early", cfg.Nodes.Early.Driver),
		zap.String("late", cfg.Nodes.Late.Driver),
		zap.String("recovery_backend", cfg.Recovery.Backend),
		zap.String("ledger", cfg.Recovery.Ledger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	nodes := cfg.Nodes.Descriptors()
	connector := store.NewSQLConnector(store.PoolOptions{
		MaxOpenConns:    cfg.Nodes.MaxOpenConns,
		MaxIdleConns:    cfg.Nodes.MaxIdleConns,
		ConnMaxLifetime: cfg.Nodes.ConnMaxLifetime,
		ConnectTimeout:  cfg.Nodes.ConnectTimeout,
	}, logger)
	defer connector.Close()

	records := store.NewRecordStore()
	for _, node := range nodes {
		prepareSQLiteDir(node, logger)
		ensureSchema(ctx, connector, records, node, logger)
	}

	routing, err := service.NewRoutingService(nodes)
	if err != nil {
		logger.Fatal("Invalid node configuration", zap.Error(err))
	}

	logStore, err := openLogStore(ctx, cfg.Recovery, logger)
	if err != nil {
		logger.Fatal("Failed to open recovery log", zap.Error(err))
	}
	defer logStore.Close()

	ledger, err := openLedger(cfg.Recovery, logger)
	if err != nil {
		logger.Fatal("Failed to open replay ledger", zap.Error(err))
	}
	defer ledger.Close()

	retry := service.RetryPolicy{Attempts: cfg.Write.RetryAttempts, Delay: cfg.Write.RetryDelay}
	prober := health.NewNodeProber(connector, nodes, cfg.Nodes.ConnectTimeout, m, logger)
	recovery := service.NewRecoveryService(logStore, ledger, prober, routing, connector, records, retry, m, logger)
	reader := service.NewReadChecker(routing, connector, records,
		cfg.ReadCheck.SettleDelay, cfg.ReadCheck.LockMode == config.LockModeShare, m, logger)
	catalog := service.NewCatalogService(routing, connector, records, recovery, reader,
		validation.NewValidator(), retry, cfg.Write.Timeout, m, logger)

	if n, err := recovery.PendingCount(ctx); err != nil {
		logger.Warn("Could not read recovery log at startup", zap.Error(err))
	} else if n > 0 {
		logger.Info("Recovery log has pending entries", zap.Int("pending", n))
	}

	httpServer := server.NewServer(cfg, catalog, health.NewHealthChecker(prober, recovery, logger), m, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		g.Go(metricsServer.Start)
	}

	if cfg.Recovery.DrainInterval > 0 {
		g.Go(func() error {
			recovery.RunPeriodic(gctx, cfg.Recovery.DrainInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shutdown metrics server", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", zap.Error(err))
	}

	logger.Info("Game catalog service stopped")
}

func openLogStore(ctx context.Context, cfg config.RecoveryConfig, logger *zap.Logger) (store.LogStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := store.NewPostgresLogStore(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		fs, err := store.NewFileLogStore(cfg.LogPath, cfg.SyncWrites, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

func openLedger(cfg config.RecoveryConfig, logger *zap.Logger) (store.ReplayLedger, error) {
	switch cfg.Ledger {
	case config.LedgerRedis:
		ledger, err := store.NewRedisReplayLedger(store.RedisOptions{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, cfg.LedgerTTL, logger)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	default:
		return store.NewMemoryReplayLedger(cfg.LedgerTTL, ledgerMaxSize, logger), nil
	}
}

// ensureSchema creates app_info on a node. An unreachable node is not fatal:
// its writes are deferred until it comes back.
func ensureSchema(ctx context.Context, connector store.Connector, records *store.RecordStore, node *model.Node, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := connector.Open(ctx, node)
	if err != nil {
		logger.Warn("Node unreachable at startup, schema not verified",
			zap.String("node", string(node.Role)),
			zap.Error(err))
		return
	}
	defer conn.Close()

	if err := records.EnsureSchema(ctx, conn); err != nil {
		logger.Warn("Failed to ensure schema",
			zap.String("node", string(node.Role)),
			zap.Error(err))
	}
}

// prepareSQLiteDir creates the directory of a file backed sqlite DSN
func prepareSQLiteDir(node *model.Node, logger *zap.Logger) {
	if node.Driver != "sqlite" {
		return
	}
	path := strings.TrimPrefix(node.DSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Warn("Failed to create sqlite directory",
			zap.String("node", string(node.Role)),
			zap.Error(err))
	}
}

func initLogger(cfg config.LoggingConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
