package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	godriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/internal/storage"
	"github.com/perch-obs/perch/internal/storage/mysql"
	"github.com/perch-obs/perch/internal/storage/storagetest"
	"github.com/perch-obs/perch/pkg/models"
)

// Tests run only when PERCH_TEST_MYSQL_DSN points at a server whose user
// may create and drop databases, e.g.
// root:secret@tcp(127.0.0.1:3306)/perch
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PERCH_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PERCH_TEST_MYSQL_DSN not set")
	}
	return dsn
}

var dbSeq atomic.Int64

// opener provisions a fresh database per subtest on the configured server.
func opener(t *testing.T, adminDSN string) func(t *testing.T) storage.Store {
	cfg, err := godriver.ParseDSN(adminDSN)
	require.NoError(t, err)

	return func(t *testing.T) storage.Store {
		t.Helper()

		name := fmt.Sprintf("perch_test_%d_%d", os.Getpid(), dbSeq.Add(1))
		admin := cfg.Clone()
		admin.DBName = ""
		db, err := sql.Open("mysql", admin.FormatDSN())
		require.NoError(t, err)
		_, err = db.Exec("CREATE DATABASE " + name)
		require.NoError(t, err)
		t.Cleanup(func() {
			db.Exec("DROP DATABASE " + name)
			db.Close()
		})

		scoped := cfg.Clone()
		scoped.DBName = name
		s, err := mysql.Open(scoped.FormatDSN())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}
}

func TestConformance(t *testing.T) {
	dsn := testDSN(t)
	storagetest.Run(t, opener(t, dsn))
}

func TestKindAndFallbackSearch(t *testing.T) {
	dsn := testDSN(t)
	s := opener(t, dsn)(t)
	ctx := context.Background()

	assert.Equal(t, "mysql", s.Kind())
	assert.False(t, s.HasFullTextSearch())

	e := &models.LogEntry{
		ID:          "log-1",
		Timestamp:   time.Now().UTC(),
		Level:       models.LevelError,
		Message:     "database connection refused",
		AppName:     "checkout",
		Environment: models.Environment{Runtime: "node"},
		Metadata:    map[string]any{"region": "eu-west"},
	}
	require.NoError(t, s.InsertLog(ctx, e))

	_, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "connection refused"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "region:eu-west"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}
