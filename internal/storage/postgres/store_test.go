package postgres_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/perch-obs/perch/internal/storage"
	"github.com/perch-obs/perch/internal/storage/postgres"
	"github.com/perch-obs/perch/internal/storage/storagetest"
	"github.com/perch-obs/perch/pkg/models"
)

var dbSeq atomic.Int64

// startContainer runs one PostgreSQL container for the whole test; each
// store opens against its own database inside it.
func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("perch"),
		tcpostgres.WithUsername("perch"),
		tcpostgres.WithPassword("perch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// opener returns a storagetest opener that provisions a fresh database per
// subtest so suite cases cannot see each other's rows.
func opener(t *testing.T, adminDSN string) func(t *testing.T) storage.Store {
	return func(t *testing.T) storage.Store {
		t.Helper()
		ctx := context.Background()

		name := fmt.Sprintf("perch_test_%d", dbSeq.Add(1))
		conn, err := pgx.Connect(ctx, adminDSN)
		require.NoError(t, err)
		_, err = conn.Exec(ctx, "CREATE DATABASE "+name)
		require.NoError(t, conn.Close(ctx))
		require.NoError(t, err)

		cfg, err := pgx.ParseConfig(adminDSN)
		require.NoError(t, err)
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, name)

		s, err := postgres.Open(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
}

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	dsn := startContainer(t)
	storagetest.Run(t, opener(t, dsn))
}

func TestKindAndFallbackSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	dsn := startContainer(t)
	s := opener(t, dsn)(t)
	ctx := context.Background()

	assert.Equal(t, "postgres", s.Kind())
	assert.False(t, s.HasFullTextSearch())

	e := &models.LogEntry{
		ID:          "log-1",
		Timestamp:   time.Now().UTC(),
		Level:       models.LevelError,
		Message:     "Database Connection Refused",
		AppName:     "checkout",
		Environment: models.Environment{Runtime: "node"},
		Metadata:    map[string]any{"region": "eu-west"},
	}
	require.NoError(t, s.InsertLog(ctx, e))

	// The ILIKE fallback is case-insensitive and matches mid-word.
	_, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "connection refused"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// JSONB metadata filters target the named key.
	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "region:eu-west"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "nomatch:eu-west"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}
