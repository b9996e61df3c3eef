package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/perch-obs/perch/internal/search"
	"github.com/perch-obs/perch/pkg/models"
)

const logColumns = `id, timestamp, level, message, app_name, session_id,
	environment, metadata, stack_trace, context,
	error_group_id, trace_id, span_id, parent_span_id`

// cond accumulates WHERE predicates with positional placeholders.
type cond struct {
	exprs []string
	args  []any
}

// add appends a predicate; expr must contain one %d for the placeholder
// position.
func (c *cond) add(expr string, val any) {
	c.exprs = append(c.exprs, fmt.Sprintf(expr, len(c.args)+1))
	c.args = append(c.args, val)
}

func (c *cond) where() string {
	if len(c.exprs) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.exprs, " AND ")
}

func (c *cond) next() int { return len(c.args) + 1 }

func (s *Store) InsertLog(ctx context.Context, e *models.LogEntry) error {
	env, err := json.Marshal(e.Environment)
	if err != nil {
		return fmt.Errorf("encoding environment: %w", err)
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return err
	}
	cctx, err := encodeJSON(e.Context)
	if err != nil {
		return err
	}

	var stack any
	if e.StackTrace != "" {
		stack = e.StackTrace
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, utc(e.Timestamp), e.Level, e.Message, e.AppName, e.SessionID,
		env, meta, stack, cctx,
		strPtr(e.ErrorGroupID), strPtr(e.TraceID), strPtr(e.SpanID), strPtr(e.ParentSpanID))
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+logColumns+" FROM logs WHERE id = $1", id)
	e, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// QueryLogs filters and pages log entries, newest first. Free text is
// served by the substring fallback: every token must match message,
// metadata, or stack trace case-insensitively.
func (s *Store) QueryLogs(ctx context.Context, f models.LogFilter) ([]*models.LogEntry, int64, error) {
	r := f.Resolve()
	c := logConds(r)

	var total int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM logs"+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting logs: %w", err)
	}

	query := fmt.Sprintf("SELECT "+logColumns+" FROM logs"+c.where()+
		" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", c.next(), c.next()+1)
	rows, err := s.pool.Query(ctx, query, append(c.args, r.Limit, r.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.LogEntry, 0, r.Limit)
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, e)
	}
	return logs, total, rows.Err()
}

func (s *Store) LogsByTrace(ctx context.Context, traceID string) ([]*models.LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+logColumns+" FROM logs WHERE trace_id = $1 ORDER BY timestamp ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("querying trace logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func logConds(r models.ResolvedLogFilter) *cond {
	c := &cond{}
	eq := func(col, val string) {
		if val != "" {
			c.add(col+" = $%d", val)
		}
	}
	eq("level", r.Level)
	eq("app_name", r.AppName)
	eq("session_id", r.SessionID)
	eq("trace_id", r.TraceID)
	eq("span_id", r.SpanID)
	eq("error_group_id", r.ErrorGroupID)

	if r.StartDate != nil {
		c.add("timestamp >= $%d", utc(*r.StartDate))
	}
	if r.EndDate != nil {
		c.add("timestamp <= $%d", utc(*r.EndDate))
	}

	// JSONB lets metadata filters target the named key directly.
	for _, m := range r.Meta {
		c.exprs = append(c.exprs, fmt.Sprintf(
			"COALESCE(metadata ->> $%d, '') ILIKE $%d", c.next(), c.next()+1))
		c.args = append(c.args, m.Key, "%"+m.Value+"%")
	}

	for _, tok := range search.Tokens(r.FreeText) {
		c.exprs = append(c.exprs, fmt.Sprintf(
			"(message ILIKE $%d OR metadata::text ILIKE $%d OR stack_trace ILIKE $%d)",
			c.next(), c.next(), c.next()))
		c.args = append(c.args, "%"+tok+"%")
	}
	return c
}

type scanner interface {
	Scan(dst ...any) error
}

func scanLog(sc scanner) (*models.LogEntry, error) {
	var e models.LogEntry
	var env, meta, cctx []byte
	var stack *string

	err := sc.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.AppName, &e.SessionID,
		&env, &meta, &stack, &cctx, &e.ErrorGroupID, &e.TraceID, &e.SpanID, &e.ParentSpanID)
	if err != nil {
		return nil, err
	}

	e.Timestamp = e.Timestamp.UTC()
	if err := json.Unmarshal(env, &e.Environment); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if e.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	if e.Context, err = decodeJSON(cctx); err != nil {
		return nil, err
	}
	if stack != nil {
		e.StackTrace = *stack
	}
	return &e, nil
}
