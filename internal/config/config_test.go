package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.StorageKind)
	assert.Equal(t, "perch.db", cfg.StorageDSN)
	assert.Equal(t, 5*time.Minute, cfg.SpanTimeout)
	assert.Equal(t, float64(50), cfg.IngestRPS)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PERCH_ADDR", ":9090")
	t.Setenv("PERCH_DB_KIND", "postgres")
	t.Setenv("PERCH_DB_DSN", "postgres://perch@localhost/perch")
	t.Setenv("PERCH_SPAN_TIMEOUT", "90s")
	t.Setenv("PERCH_INGEST_RPS", "2.5")
	t.Setenv("PERCH_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "postgres", cfg.StorageKind)
	assert.Equal(t, 90*time.Second, cfg.SpanTimeout)
	assert.Equal(t, 2.5, cfg.IngestRPS)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PERCH_SPAN_TIMEOUT", "soon")
	t.Setenv("PERCH_INGEST_BURST", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SpanTimeout)
	assert.Equal(t, 100, cfg.IngestBurst)
}

func TestLoadRejectsBadKind(t *testing.T) {
	t.Setenv("PERCH_DB_KIND", "oracle")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("PERCH_LOG_LEVEL", "loud")
	_, err := Load()
	assert.Error(t, err)
}
