// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for the market and ledger databases (always absolute)
	Port           int
	LogLevel       string
	LogPretty      bool
	DevMode        bool
	WorkerCapacity int // Concurrent jobs across all tenants; 0 sizes the pool from host memory and CPUs
	TenantCapacity int // Concurrent jobs per tenant
	RequestTimeout time.Duration
	CORSOrigins    []string
	Pipeline       PipelineConfig
}

// PipelineConfig selects the scheduled pipeline run
type PipelineConfig struct {
	Schedule        string // Standard 5-field cron spec; empty disables scheduling
	UniverseID      string
	RecipePath      string
	ConstraintsPath string
	Ruleset         string // Built-in ruleset name or a ruleset file path
	Method          string
	LookbackDays    int
	Backtest        bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTCORE_DATA_DIR", "data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("QUANTCORE_PORT", 8080),
		LogLevel:       getEnv("QUANTCORE_LOG_LEVEL", "info"),
		LogPretty:      getEnvAsBool("QUANTCORE_LOG_PRETTY", false),
		DevMode:        getEnvAsBool("QUANTCORE_DEV_MODE", false),
		WorkerCapacity: getEnvAsInt("QUANTCORE_WORKER_CAPACITY", 0),
		TenantCapacity: getEnvAsInt("QUANTCORE_TENANT_CAPACITY", 2),
		RequestTimeout: getEnvAsDuration("QUANTCORE_REQUEST_TIMEOUT", 2*time.Minute),
		CORSOrigins:    getEnvAsList("QUANTCORE_CORS_ORIGINS", []string{"*"}),
		Pipeline: PipelineConfig{
			Schedule:        getEnv("QUANTCORE_SCHEDULE", ""),
			UniverseID:      getEnv("QUANTCORE_UNIVERSE", ""),
			RecipePath:      getEnv("QUANTCORE_RECIPE", ""),
			ConstraintsPath: getEnv("QUANTCORE_CONSTRAINTS", ""),
			Ruleset:         getEnv("QUANTCORE_RULESET", "long_only_fund"),
			Method:          getEnv("QUANTCORE_METHOD", "mean_variance"),
			LookbackDays:    getEnvAsInt("QUANTCORE_LOOKBACK_DAYS", 504),
			Backtest:        getEnvAsBool("QUANTCORE_BACKTEST", false),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MarketDBPath is the market data database inside DataDir
func (c *Config) MarketDBPath() string {
	return filepath.Join(c.DataDir, "market.db")
}

// LedgerDBPath is the compliance exception ledger inside DataDir
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	const op = "config"

	if c.Port < 1 || c.Port > 65535 {
		return quanterr.Configuration(op, "QUANTCORE_PORT %d outside 1-65535", c.Port)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return quanterr.Configuration(op, "QUANTCORE_LOG_LEVEL %q: %v", c.LogLevel, err)
	}
	if c.WorkerCapacity < 0 {
		return quanterr.Configuration(op, "QUANTCORE_WORKER_CAPACITY must be non-negative, got %d", c.WorkerCapacity)
	}
	if c.TenantCapacity < 1 {
		return quanterr.Configuration(op, "QUANTCORE_TENANT_CAPACITY must be positive, got %d", c.TenantCapacity)
	}
	if c.RequestTimeout <= 0 {
		return quanterr.Configuration(op, "QUANTCORE_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	p := c.Pipeline
	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			return quanterr.Configuration(op, "QUANTCORE_SCHEDULE %q: %v", p.Schedule, err)
		}
		if p.UniverseID == "" || p.RecipePath == "" {
			return quanterr.Configuration(op, "a schedule needs QUANTCORE_UNIVERSE and QUANTCORE_RECIPE")
		}
	}
	if p.LookbackDays < 2 {
		return quanterr.Configuration(op, "QUANTCORE_LOOKBACK_DAYS must be at least 2, got %d", p.LookbackDays)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
