// Package sqlite implements storage on an embedded SQLite database using
// modernc.org/sqlite (no cgo). Free-text log search is served by an FTS5
// index maintained through triggers.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/perch-obs/perch/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is a fixed-width UTC format so lexicographic ordering of the
// stored text equals chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000Z"

// vacuumThreshold is the deletion count above which ReclaimSpace runs an
// incremental vacuum.
const vacuumThreshold = 1000

// Store is the SQLite-backed storage engine.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY churn and keeps the pragmas below on every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Kind() string            { return "sqlite" }
func (s *Store) HasFullTextSearch() bool { return true }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetSettings returns the single retention settings row.
func (s *Store) GetSettings(ctx context.Context) (models.RetentionSettings, error) {
	var rs models.RetentionSettings
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT logs_retention_days, traces_retention_days, spans_retention_days,
		       error_groups_retention_days, cleanup_enabled, cleanup_interval_hours
		FROM settings WHERE id = 1`).Scan(
		&rs.LogsRetentionDays, &rs.TracesRetentionDays, &rs.SpansRetentionDays,
		&rs.ErrorGroupsRetentionDays, &enabled, &rs.CleanupIntervalHours)
	if err != nil {
		return rs, fmt.Errorf("reading settings: %w", err)
	}
	rs.CleanupEnabled = enabled != 0
	return rs, nil
}

func (s *Store) UpdateSettings(ctx context.Context, rs models.RetentionSettings) error {
	enabled := 0
	if rs.CleanupEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings SET
			logs_retention_days = ?, traces_retention_days = ?, spans_retention_days = ?,
			error_groups_retention_days = ?, cleanup_enabled = ?, cleanup_interval_hours = ?
		WHERE id = 1`,
		rs.LogsRetentionDays, rs.TracesRetentionDays, rs.SpansRetentionDays,
		rs.ErrorGroupsRetentionDays, enabled, rs.CleanupIntervalHours)
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	return nil
}

// Stats reports row counts and the on-disk size from the page pragmas.
func (s *Store) Stats(ctx context.Context) (models.StorageStats, error) {
	var st models.StorageStats
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM logs", &st.LogCount},
		{"SELECT COUNT(*) FROM error_groups", &st.ErrorGroupCount},
		{"SELECT COUNT(*) FROM traces", &st.TraceCount},
		{"SELECT COUNT(*) FROM spans", &st.SpanCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("counting rows: %w", err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			st.SizeBytes = pageCount * pageSize
		}
	}

	if t, ok, err := s.minTime(ctx, "SELECT MIN(timestamp) FROM logs"); err != nil {
		return st, err
	} else if ok {
		st.OldestLog = &t
	}
	if t, ok, err := s.minTime(ctx, "SELECT MIN(start_time) FROM traces"); err != nil {
		return st, err
	} else if ok {
		st.OldestTrace = &t
	}
	return st, nil
}

func (s *Store) minTime(ctx context.Context, query string) (time.Time, bool, error) {
	var v sql.NullString
	if err := s.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("reading oldest timestamp: %w", err)
	}
	if !v.Valid || v.String == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate values written by other tools.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(v sql.NullString) (map[string]any, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, fmt.Errorf("decoding json column: %w", err)
	}
	return m, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid || s.String == "" {
		return nil
	}
	v := s.String
	return &v
}

func strPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
