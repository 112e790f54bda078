package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/devrev/gamecatalog/internal/model"
)

// Config represents the catalog service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Nodes       NodesConfig       `mapstructure:"nodes"`
	Write       WriteConfig       `mapstructure:"write"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	ReadCheck   ReadCheckConfig   `mapstructure:"read_check"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NodeConfig is the connection descriptor of one backend
type NodeConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// NodesConfig holds the three fixed backends and shared pool tuning
type NodesConfig struct {
	Central         NodeConfig    `mapstructure:"central"`
	Early           NodeConfig    `mapstructure:"early"`
	Late            NodeConfig    `mapstructure:"late"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// WriteConfig controls the immediate retry budget of physical writes
type WriteConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RecoveryConfig represents recovery log configuration
type RecoveryConfig struct {
	Backend     string        `mapstructure:"backend"`
	LogPath     string        `mapstructure:"log_path"`
	SyncWrites  bool          `mapstructure:"sync_writes"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	Ledger      string        `mapstructure:"ledger"`
	LedgerTTL   time.Duration `mapstructure:"ledger_ttl"`
	Redis       RedisConfig   `mapstructure:"redis"`
	// DrainOnRequest runs a recovery pass before each record request
	DrainOnRequest bool `mapstructure:"drain_on_request"`
	// DrainInterval runs recovery passes in the background; zero disables
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

// RedisConfig represents the Redis replay ledger connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// ReadCheckConfig configures the locked double read
type ReadCheckConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	LockMode    string        `mapstructure:"lock_mode"`
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"

	LedgerMemory = "memory"
	LedgerRedis  = "redis"

	LockModeShare = "share"
	LockModeNone  = "none"
)

// Descriptors returns the configured nodes in probe order
func (n NodesConfig) Descriptors() []*model.Node {
	return []*model.Node{
		{Role: model.Central, Driver: n.Central.Driver, DSN: n.Central.DSN},
		{Role: model.EarlyPartition, Driver: n.Early.Driver, DSN: n.Early.DSN},
		{Role: model.LatePartition, Driver: n.Late.Driver, DSN: n.Late.DSN},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for _, node := range c.Nodes.Descriptors() {
		if !isValidDriver(node.Driver) {
			return fmt.Errorf("nodes.%s.driver must be one of: mysql, pgx, sqlite", node.Role)
		}
		if node.DSN == "" {
			return fmt.Errorf("nodes.%s.dsn is required", node.Role)
		}
	}

	if c.Write.RetryAttempts < 1 {
		return errors.New("write.retry_attempts must be at least 1")
	}
	if c.Write.RetryDelay < 0 {
		return errors.New("write.retry_delay must not be negative")
	}

	switch c.Recovery.Backend {
	case BackendFile:
		if c.Recovery.LogPath == "" {
			return errors.New("recovery.log_path is required for the file backend")
		}
	case BackendPostgres:
		if c.Recovery.PostgresDSN == "" {
			return errors.New("recovery.postgres_dsn is required for the postgres backend")
		}
	default:
		return errors.New("recovery.backend must be one of: file, postgres")
	}

	if c.Recovery.DrainInterval < 0 {
		return errors.New("recovery.drain_interval must not be negative")
	}

	switch c.Recovery.Ledger {
	case LedgerMemory:
	case LedgerRedis:
		if c.Recovery.Redis.Host == "" {
			return errors.New("recovery.redis.host is required for the redis ledger")
		}
	default:
		return errors.New("recovery.ledger must be one of: memory, redis")
	}

	if c.ReadCheck.SettleDelay < 0 {
		return errors.New("read_check.settle_delay must not be negative")
	}
	if c.ReadCheck.LockMode != LockModeShare && c.ReadCheck.LockMode != LockModeNone {
		return errors.New("read_check.lock_mode must be one of: share, none")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return errors.New("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return errors.New("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

func isValidDriver(driver string) bool {
	switch driver {
	case "mysql", "pgx", "sqlite":
		return true
	default:
		return false
	}
}

// DefaultConfig returns a single-host configuration backed by three sqlite files
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Nodes: NodesConfig{
			Central:         NodeConfig{Driver: "sqlite", DSN: "file:data/central.db?_pragma=busy_timeout(5000)"},
			Early:           NodeConfig{Driver: "sqlite", DSN: "file:data/early.db?_pragma=busy_timeout(5000)"},
			Late:            NodeConfig{Driver: "sqlite", DSN: "file:data/late.db?_pragma=busy_timeout(5000)"},
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  3 * time.Second,
		},
		Write: WriteConfig{
			RetryAttempts: 3,
			RetryDelay:    500 * time.Millisecond,
			Timeout:       10 * time.Second,
		},
		Recovery: RecoveryConfig{
			Backend:        BackendFile,
			LogPath:        "data/recovery.log",
			SyncWrites:     true,
			Ledger:         LedgerMemory,
			LedgerTTL:      24 * time.Hour,
			DrainOnRequest: true,
			DrainInterval:  0,
			Redis: RedisConfig{
				Host:         "localhost",
				Port:         6379,
				MaxRetries:   3,
				PoolSize:     10,
				MinIdleConns: 2,
			},
		},
		ReadCheck: ReadCheckConfig{
			SettleDelay: 0,
			LockMode:    LockModeShare,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			BurstSize:         100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
