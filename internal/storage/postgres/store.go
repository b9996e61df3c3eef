// Package postgres implements storage on PostgreSQL via a pgx connection
// pool. Free-text search uses ILIKE over message, metadata, and stack
// trace; there is no dedicated full-text index.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perch-obs/perch/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// Store is the PostgreSQL-backed storage engine.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Kind() string            { return "postgres" }
func (s *Store) HasFullTextSearch() bool { return false }

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) GetSettings(ctx context.Context) (models.RetentionSettings, error) {
	var rs models.RetentionSettings
	err := s.pool.QueryRow(ctx, `
		SELECT logs_retention_days, traces_retention_days, spans_retention_days,
		       error_groups_retention_days, cleanup_enabled, cleanup_interval_hours
		FROM settings WHERE id = 1`).Scan(
		&rs.LogsRetentionDays, &rs.TracesRetentionDays, &rs.SpansRetentionDays,
		&rs.ErrorGroupsRetentionDays, &rs.CleanupEnabled, &rs.CleanupIntervalHours)
	if err != nil {
		return rs, fmt.Errorf("reading settings: %w", err)
	}
	return rs, nil
}

func (s *Store) UpdateSettings(ctx context.Context, rs models.RetentionSettings) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE settings SET
			logs_retention_days = $1, traces_retention_days = $2, spans_retention_days = $3,
			error_groups_retention_days = $4, cleanup_enabled = $5, cleanup_interval_hours = $6
		WHERE id = 1`,
		rs.LogsRetentionDays, rs.TracesRetentionDays, rs.SpansRetentionDays,
		rs.ErrorGroupsRetentionDays, rs.CleanupEnabled, rs.CleanupIntervalHours)
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (models.StorageStats, error) {
	var st models.StorageStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM logs),
			(SELECT COUNT(*) FROM error_groups),
			(SELECT COUNT(*) FROM traces),
			(SELECT COUNT(*) FROM spans),
			pg_database_size(current_database()),
			(SELECT MIN(timestamp) FROM logs),
			(SELECT MIN(start_time) FROM traces)`).Scan(
		&st.LogCount, &st.ErrorGroupCount, &st.TraceCount, &st.SpanCount,
		&st.SizeBytes, &st.OldestLog, &st.OldestTrace)
	if err != nil {
		return st, fmt.Errorf("reading storage stats: %w", err)
	}
	if st.OldestLog != nil {
		t := st.OldestLog.UTC()
		st.OldestLog = &t
	}
	if st.OldestTrace != nil {
		t := st.OldestTrace.UTC()
		st.OldestTrace = &t
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func encodeJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return b, nil
}

func decodeJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding json column: %w", err)
	}
	return m, nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func strPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
