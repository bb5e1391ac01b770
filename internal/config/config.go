// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir string // directory holding the SQLite databases, always absolute
	VarDir  string // directory holding lock files, always absolute

	LogLevel  string
	LogPretty bool

	// Job dispatcher tuning.
	JobTimeoutMinutes     int // running jobs older than this are considered stalled
	PendingRestartMinutes int // pending jobs older than this get respawned
	QuoteConcurrency      int // parallel ticker fetches during quote updates
	PerMonitorLocks       bool

	// CSV quote source root; empty disables the csv source.
	CSVDir string

	// Daily schedule in cron syntax with seconds, evaluated in local time.
	DailySchedule string

	// SMTP passthrough for the external notifier. The engine only embeds
	// these into the daily report payload.
	SMTPHost string
	SMTPPort int
	SMTPFrom string
	SMTPTo   string
}

// Load reads configuration from the environment, with a .env file loaded
// first when present. Relative directories are made absolute against the
// working directory so child processes resolve the same paths.
func Load() (*Config, error) {
	// Ignore error if .env doesn't exist.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:               getEnv("STRATEGEM_DATA_DIR", "./data"),
		VarDir:                getEnv("STRATEGEM_VAR_DIR", "./var"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnvAsBool("LOG_PRETTY", false),
		JobTimeoutMinutes:     getEnvAsInt("JOB_TIMEOUT_MINUTES", 60),
		PendingRestartMinutes: getEnvAsInt("PENDING_RESTART_MINUTES", 2),
		QuoteConcurrency:      getEnvAsInt("QUOTE_CONCURRENCY", 4),
		PerMonitorLocks:       getEnvAsBool("PER_MONITOR_LOCKS", false),
		CSVDir:                getEnv("STRATEGEM_CSV_DIR", ""),
		DailySchedule:         getEnv("DAILY_SCHEDULE", "0 30 18 * * MON-FRI"),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              getEnvAsInt("SMTP_PORT", 587),
		SMTPFrom:              getEnv("SMTP_FROM", ""),
		SMTPTo:                getEnv("SMTP_TO", ""),
	}

	for _, dir := range []*string{&cfg.DataDir, &cfg.VarDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve directory %q: %w", *dir, err)
		}
		*dir = abs
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", abs, err)
		}
	}
	return cfg, nil
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
