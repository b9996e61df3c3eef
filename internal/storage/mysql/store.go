// Package mysql implements storage on MySQL through database/sql and the
// go-sql-driver. Free-text search uses the LIKE fallback path; there is no
// dedicated full-text index.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/perch-obs/perch/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// mysqlDuplicateEntry is the MySQL error number for duplicate keys.
const mysqlDuplicateEntry = 1062

// Store is the MySQL-backed storage engine.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn and applies the schema. The DSN is
// normalized so DATETIME columns scan as UTC time.Time values.
func Open(dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// applySchema executes the DDL one statement at a time since the driver
// rejects multi-statement Exec by default.
func applySchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Kind() string            { return "mysql" }
func (s *Store) HasFullTextSearch() bool { return false }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetSettings(ctx context.Context) (models.RetentionSettings, error) {
	var rs models.RetentionSettings
	err := s.db.QueryRowContext(ctx, `
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
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings SET
			logs_retention_days = ?, traces_retention_days = ?, spans_retention_days = ?,
			error_groups_retention_days = ?, cleanup_enabled = ?, cleanup_interval_hours = ?
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

	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(data_length + index_length), 0)
		FROM information_schema.tables WHERE table_schema = DATABASE()`).Scan(&size)
	if err == nil {
		st.SizeBytes = size.Int64
	}

	var oldestLog, oldestTrace sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp) FROM logs").Scan(&oldestLog); err != nil {
		return st, fmt.Errorf("reading oldest log: %w", err)
	}
	if oldestLog.Valid {
		t := oldestLog.Time.UTC()
		st.OldestLog = &t
	}
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(start_time) FROM traces").Scan(&oldestTrace); err != nil {
		return st, fmt.Errorf("reading oldest trace: %w", err)
	}
	if oldestTrace.Valid {
		t := oldestTrace.Time.UTC()
		st.OldestTrace = &t
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
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

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
