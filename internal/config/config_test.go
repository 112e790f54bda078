package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, doc map[string]interface{}) string {
	t.Helper()
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Write.RetryAttempts)
	assert.Equal(t, time.Duration(0), cfg.ReadCheck.SettleDelay)
	assert.Equal(t, LockModeShare, cfg.ReadCheck.LockMode)
	assert.True(t, cfg.Recovery.DrainOnRequest)
	assert.Zero(t, cfg.Recovery.DrainInterval)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, map[string]interface{}{
		"server": map[string]interface{}{"port": 9000},
		"nodes": map[string]interface{}{
			"central": map[string]interface{}{"driver": "mysql", "dsn": "root:pw@tcp(central:3306)/steam"},
			"early":   map[string]interface{}{"driver": "mysql", "dsn": "root:pw@tcp(early:3306)/steam"},
			"late":    map[string]interface{}{"driver": "pgx", "dsn": "postgres://late/steam"},
		},
		"write":      map[string]interface{}{"retry_attempts": 5, "retry_delay": "250ms"},
		"read_check": map[string]interface{}{"settle_delay": "2s", "lock_mode": "none"},
		"recovery":   map[string]interface{}{"drain_on_request": false, "drain_interval": "30s"},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Nodes.Central.Driver)
	assert.Equal(t, "postgres://late/steam", cfg.Nodes.Late.DSN)
	assert.Equal(t, 5, cfg.Write.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Write.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.ReadCheck.SettleDelay)
	assert.Equal(t, LockModeNone, cfg.ReadCheck.LockMode)
	assert.False(t, cfg.Recovery.DrainOnRequest)
	assert.Equal(t, 30*time.Second, cfg.Recovery.DrainInterval)

	// untouched sections keep their defaults
	assert.Equal(t, BackendFile, cfg.Recovery.Backend)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, map[string]interface{}{
		"server": map[string]interface{}{"port": 9000},
	})
	t.Setenv("CATALOG_SERVER_PORT", "9100")
	t.Setenv("CATALOG_NODES_EARLY_DSN", "file:/tmp/early.db")
	t.Setenv("CATALOG_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "file:/tmp/early.db", cfg.Nodes.Early.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	path := writeConfig(t, map[string]interface{}{
		"recovery": map[string]interface{}{"log_path": "/var/lib/catalog/recovery.log"},
	})
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/catalog/recovery.log", cfg.Recovery.LogPath)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, map[string]interface{}{
		"nodes": map[string]interface{}{
			"central": map[string]interface{}{"driver": "oracle"},
		},
	})

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodes.central.driver")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"missing dsn", func(c *Config) { c.Nodes.Late.DSN = "" }, "nodes.late.dsn"},
		{"no attempts", func(c *Config) { c.Write.RetryAttempts = 0 }, "retry_attempts"},
		{"unknown backend", func(c *Config) { c.Recovery.Backend = "s3" }, "recovery.backend"},
		{"postgres without dsn", func(c *Config) { c.Recovery.Backend = BackendPostgres }, "postgres_dsn"},
		{"negative drain interval", func(c *Config) { c.Recovery.DrainInterval = -time.Minute }, "drain_interval"},
		{"unknown ledger", func(c *Config) { c.Recovery.Ledger = "etcd" }, "recovery.ledger"},
		{"negative settle", func(c *Config) { c.ReadCheck.SettleDelay = -time.Second }, "settle_delay"},
		{"unknown lock mode", func(c *Config) { c.ReadCheck.LockMode = "exclusive" }, "lock_mode"},
		{"zero burst", func(c *Config) { c.RateLimiter.BurstSize = 0 }, "burst size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNodesConfig_Descriptors(t *testing.T) {
	nodes := DefaultConfig().Nodes.Descriptors()
	require.Len(t, nodes, 3)
	assert.Equal(t, "central", nodes[0].String())
	assert.Equal(t, "early", nodes[1].String())
	assert.Equal(t, "late", nodes[2].String())
}
