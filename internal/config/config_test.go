package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUANTCORE_DATA_DIR", filepath.Join(dir, "data"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0, cfg.WorkerCapacity)
	assert.Equal(t, 2, cfg.TenantCapacity)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "long_only_fund", cfg.Pipeline.Ruleset)
	assert.Equal(t, 504, cfg.Pipeline.LookbackDays)
	assert.Empty(t, cfg.Pipeline.Schedule)
	assert.Equal(t, filepath.Join(cfg.DataDir, "market.db"), cfg.MarketDBPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "ledger.db"), cfg.LedgerDBPath())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUANTCORE_DATA_DIR", t.TempDir())
	t.Setenv("QUANTCORE_PORT", "9090")
	t.Setenv("QUANTCORE_LOG_LEVEL", "debug")
	t.Setenv("QUANTCORE_WORKER_CAPACITY", "8")
	t.Setenv("QUANTCORE_TENANT_CAPACITY", "3")
	t.Setenv("QUANTCORE_REQUEST_TIMEOUT", "30s")
	t.Setenv("QUANTCORE_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("QUANTCORE_SCHEDULE", "0 22 * * 1-5")
	t.Setenv("QUANTCORE_UNIVERSE", "core")
	t.Setenv("QUANTCORE_RECIPE", "recipe.yaml")
	t.Setenv("QUANTCORE_BACKTEST", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.WorkerCapacity)
	assert.Equal(t, 3, cfg.TenantCapacity)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "0 22 * * 1-5", cfg.Pipeline.Schedule)
	assert.True(t, cfg.Pipeline.Backtest)
}

func TestLoad_UnparsableValuesFallBack(t *testing.T) {
	t.Setenv("QUANTCORE_DATA_DIR", t.TempDir())
	t.Setenv("QUANTCORE_PORT", "eighty")
	t.Setenv("QUANTCORE_REQUEST_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:           8080,
			LogLevel:       "info",
			TenantCapacity: 1,
			RequestTimeout: time.Minute,
			Pipeline:       PipelineConfig{LookbackDays: 252},
		}
	}

	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "negative workers", mutate: func(c *Config) { c.WorkerCapacity = -1 }},
		{name: "zero tenant capacity", mutate: func(c *Config) { c.TenantCapacity = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }},
		{name: "bad schedule", mutate: func(c *Config) {
			c.Pipeline.Schedule = "every night"
			c.Pipeline.UniverseID = "core"
			c.Pipeline.RecipePath = "recipe.yaml"
		}},
		{name: "schedule without recipe", mutate: func(c *Config) {
			c.Pipeline.Schedule = "@daily"
			c.Pipeline.UniverseID = "core"
		}},
		{name: "short lookback", mutate: func(c *Config) { c.Pipeline.LookbackDays = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
		})
	}
}
