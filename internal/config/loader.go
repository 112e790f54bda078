package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_NODES_CENTRAL_DSN
const EnvPrefix = "CATALOG"

// Load loads configuration from file and environment variables.
// An empty configPath falls back to CONFIG_PATH, then to defaults only.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	// Nodes
	v.SetDefault("nodes.central.driver", d.Nodes.Central.Driver)
	v.SetDefault("nodes.central.dsn", d.Nodes.Central.DSN)
	v.SetDefault("nodes.early.driver", d.Nodes.Early.Driver)
	v.SetDefault("nodes.early.dsn", d.Nodes.Early.DSN)
	v.SetDefault("nodes.late.driver", d.Nodes.Late.Driver)
	v.SetDefault("nodes.late.dsn", d.Nodes.Late.DSN)
	v.SetDefault("nodes.max_open_conns", d.Nodes.MaxOpenConns)
	v.SetDefault("nodes.max_idle_conns", d.Nodes.MaxIdleConns)
	v.SetDefault("nodes.conn_max_lifetime", d.Nodes.ConnMaxLifetime)
	v.SetDefault("nodes.connect_timeout", d.Nodes.ConnectTimeout)

	// Write
	v.SetDefault("write.retry_attempts", d.Write.RetryAttempts)
	v.SetDefault("write.retry_delay", d.Write.RetryDelay)
	v.SetDefault("write.timeout", d.Write.Timeout)

	// Recovery
	v.SetDefault("recovery.backend", d.Recovery.Backend)
	v.SetDefault("recovery.log_path", d.Recovery.LogPath)
	v.SetDefault("recovery.sync_writes", d.Recovery.SyncWrites)
	v.SetDefault("recovery.postgres_dsn", d.Recovery.PostgresDSN)
	v.SetDefault("recovery.ledger", d.Recovery.Ledger)
	v.SetDefault("recovery.ledger_ttl", d.Recovery.LedgerTTL)
	v.SetDefault("recovery.drain_on_request", d.Recovery.DrainOnRequest)
	v.SetDefault("recovery.drain_interval", d.Recovery.DrainInterval)
	v.SetDefault("recovery.redis.host", d.Recovery.Redis.Host)
	v.SetDefault("recovery.redis.port", d.Recovery.Redis.Port)
	v.SetDefault("recovery.redis.password", d.Recovery.Redis.Password)
	v.SetDefault("recovery.redis.db", d.Recovery.Redis.DB)
	v.SetDefault("recovery.redis.max_retries", d.Recovery.Redis.MaxRetries)
	v.SetDefault("recovery.redis.pool_size", d.Recovery.Redis.PoolSize)
	v.SetDefault("recovery.redis.min_idle_conns", d.Recovery.Redis.MinIdleConns)

	// Read check
	v.SetDefault("read_check.settle_delay", d.ReadCheck.SettleDelay)
	v.SetDefault("read_check.lock_mode", d.ReadCheck.LockMode)

	// Rate limiter
	v.SetDefault("rate_limiter.enabled", d.RateLimiter.Enabled)
	v.SetDefault("rate_limiter.requests_per_second", d.RateLimiter.RequestsPerSecond)
	v.SetDefault("rate_limiter.burst_size", d.RateLimiter.BurstSize)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)

	// Logging
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
