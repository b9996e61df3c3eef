package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/internal/storage"
	"github.com/perch-obs/perch/internal/storage/sqlite"
	"github.com/perch-obs/perch/internal/storage/storagetest"
	"github.com/perch-obs/perch/pkg/models"
)

// openStore provisions an isolated file database. A file (not :memory:) is
// required because each pooled connection would otherwise see its own
// private in-memory database.
func openStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "perch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, openStore)
}

func TestKind(t *testing.T) {
	s := openStore(t)
	assert.Equal(t, "sqlite", s.Kind())
	assert.True(t, s.HasFullTextSearch())
}

// Prefix matching is specific to the FTS5 path; the fallback engines only
// guarantee whole-token substring matches.
func TestSearchPrefixMatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	e := &models.LogEntry{
		ID:          "log-1",
		Timestamp:   time.Now().UTC(),
		Level:       models.LevelError,
		Message:     "database connection refused by upstream",
		AppName:     "checkout",
		Environment: models.Environment{Runtime: "node"},
	}
	require.NoError(t, s.InsertLog(ctx, e))

	logs, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "conn refus"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-1", logs[0].ID)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "nomatch"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

// The FTS index also covers stack traces and metadata.
func TestSearchCoversStackAndMetadata(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	e := &models.LogEntry{
		ID:          "log-1",
		Timestamp:   time.Now().UTC(),
		Level:       models.LevelError,
		Message:     "boom",
		AppName:     "checkout",
		Environment: models.Environment{Runtime: "node"},
		Metadata:    map[string]any{"orderId": "ord-991"},
		StackTrace:  "at chargeCard (src/payments.js:44:7)",
	}
	require.NoError(t, s.InsertLog(ctx, e))

	_, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "chargeCard"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "ord"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

// Deleted logs must disappear from search results, which exercises the
// delete trigger on the index.
func TestSearchAfterDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	ts := time.Now().UTC().Add(-time.Hour)
	e := &models.LogEntry{
		ID:          "log-1",
		Timestamp:   ts,
		Level:       models.LevelInfo,
		Message:     "ephemeral entry",
		AppName:     "checkout",
		Environment: models.Environment{Runtime: "node"},
	}
	require.NoError(t, s.InsertLog(ctx, e))

	n, err := s.DeleteLogsBefore(ctx, ts)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "ephemeral"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestOpenBadPath(t *testing.T) {
	_, err := sqlite.Open(filepath.Join(t.TempDir(), "no", "such", "dir", "perch.db"))
	assert.Error(t, err)
}
