// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string

	// StorageKind selects the engine: sqlite, postgres or mysql.
	StorageKind string
	// StorageDSN is the engine connection string; for sqlite it is the
	// database file path.
	StorageDSN string

	// SpanTimeout force-ends spans that stay running longer than this.
	// Zero disables the sweep.
	SpanTimeout time.Duration

	// IngestRPS / IngestBurst bound the per-client ingest rate.
	// IngestRPS <= 0 disables limiting.
	IngestRPS   float64
	IngestBurst int

	// MarkersPath optionally points at a YAML file with extra vendor
	// markers for stack-frame selection.
	MarkersPath string

	// LogLevel is debug, info, warn or error.
	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Addr:        envString("PERCH_ADDR", ":8080"),
		StorageKind: envString("PERCH_DB_KIND", "sqlite"),
		StorageDSN:  envString("PERCH_DB_DSN", "perch.db"),
		SpanTimeout: envDuration("PERCH_SPAN_TIMEOUT", 5*time.Minute),
		IngestRPS:   envFloat("PERCH_INGEST_RPS", 50),
		IngestBurst: envInt("PERCH_INGEST_BURST", 100),
		MarkersPath: envString("PERCH_FINGERPRINT_MARKERS", ""),
		LogLevel:    envString("PERCH_LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageKind {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("PERCH_DB_KIND must be sqlite, postgres or mysql, got %q", c.StorageKind)
	}
	if c.StorageDSN == "" {
		return fmt.Errorf("PERCH_DB_DSN must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("PERCH_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.SpanTimeout < 0 {
		return fmt.Errorf("PERCH_SPAN_TIMEOUT must not be negative")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
