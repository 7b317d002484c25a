// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env file).
// It is the sole owner of process-wide settings (account id, Flex credentials, base
// currency, local business zone, retry tuning) per the single-account, single-process
// deployment model: one process handles exactly one IBKR account.
//
// Configuration Loading Order:
// 1. Load from .env file (if present)
// 2. Load from environment variables
// 3. Validate required fields, aborting startup on failure
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds immutable per-process configuration.
//
// Once loaded, Config is never mutated at runtime: it and the Flex adapter's HTTP
// pool are the only process-wide state the system carries.
type Config struct {
	AccountID    string // IBKR account id this process handles (e.g. "U1234567")
	FlexToken    string // Flex Web Service token
	FlexQueryID  string // Flex query id to execute
	DatabaseURL  string // Postgres connection string
	BaseCurrency string // Functional/base currency (fixed: USD)
	LocalZone    string // Local business zone for report-date derivation (fixed: Asia/Jerusalem)
	LogLevel     string // debug, info, warn, error
	Port         int    // HTTP trigger/status server port

	IngestionScheduleCron string // cron expression for the scheduled ingestion trigger

	// Flex poll retry tuning (see spec §6).
	InitialWaitSeconds  int     // Delay before first poll
	RetryAttempts       int     // Max poll retries
	BackoffBaseSeconds  int     // Exponential base
	BackoffMaxSeconds   int     // Clamp
	JitterMinMultiplier float64 // Lower jitter bound
	JitterMaxMultiplier float64 // Upper jitter bound
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// godotenv.Load() returns an error if .env doesn't exist; that's fine.
	_ = godotenv.Load()

	cfg := &Config{
		AccountID:    getEnv("ACCOUNT_ID", ""),
		FlexToken:    getEnv("IBKR_FLEX_TOKEN", ""),
		FlexQueryID:  getEnv("IBKR_FLEX_QUERY_ID", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		BaseCurrency: "USD",
		LocalZone:    "Asia/Jerusalem",
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("GO_PORT", 8001),

		IngestionScheduleCron: getEnv("INGESTION_SCHEDULE_CRON", "0 0 6 * * *"),

		InitialWaitSeconds:  getEnvAsInt("IBKR_FLEX_INITIAL_WAIT_SECONDS", 5),
		RetryAttempts:       getEnvAsInt("IBKR_FLEX_RETRY_ATTEMPTS", 7),
		BackoffBaseSeconds:  getEnvAsInt("IBKR_FLEX_BACKOFF_BASE_SECONDS", 10),
		BackoffMaxSeconds:   getEnvAsInt("IBKR_FLEX_BACKOFF_MAX_SECONDS", 60),
		JitterMinMultiplier: getEnvAsFloat("IBKR_FLEX_JITTER_MIN_MULTIPLIER", 0.5),
		JitterMaxMultiplier: getEnvAsFloat("IBKR_FLEX_JITTER_MAX_MULTIPLIER", 1.5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	var missing []string
	if c.AccountID == "" {
		missing = append(missing, "ACCOUNT_ID")
	}
	if c.FlexToken == "" {
		missing = append(missing, "IBKR_FLEX_TOKEN")
	}
	if c.FlexQueryID == "" {
		missing = append(missing, "IBKR_FLEX_QUERY_ID")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

// BusinessLocation returns the parsed local business zone, used to derive report
// dates from UTC run timestamps (spec §4.9).
func (c *Config) BusinessLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.LocalZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load local business zone %q: %w", c.LocalZone, err)
	}
	return loc, nil
}

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
