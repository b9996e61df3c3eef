package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/perch-obs/perch/internal/search"
	"github.com/perch-obs/perch/pkg/models"
)

const logColumns = `id, timestamp, level, message, app_name, session_id,
	environment, metadata, stack_trace, context,
	error_group_id, trace_id, span_id, parent_span_id`

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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.Level, e.Message, e.AppName, e.SessionID,
		string(env), meta, stack, cctx,
		strPtr(e.ErrorGroupID), strPtr(e.TraceID), strPtr(e.SpanID), strPtr(e.ParentSpanID))
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM logs WHERE id = ?", id)
	e, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// QueryLogs filters and pages log entries, newest first. Free text is
// served by the substring fallback: every token must match message,
// metadata, or stack trace.
func (s *Store) QueryLogs(ctx context.Context, f models.LogFilter) ([]*models.LogEntry, int64, error) {
	r := f.Resolve()
	conds, args := logConds(r)

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting logs: %w", err)
	}

	query := "SELECT " + logColumns + " FROM logs" + where +
		" ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, r.Limit, r.Offset)...)
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
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+logColumns+" FROM logs WHERE trace_id = ? ORDER BY timestamp ASC", traceID)
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

func logConds(r models.ResolvedLogFilter) ([]string, []any) {
	var conds []string
	var args []any
	eq := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	eq("level", r.Level)
	eq("app_name", r.AppName)
	eq("session_id", r.SessionID)
	eq("trace_id", r.TraceID)
	eq("span_id", r.SpanID)
	eq("error_group_id", r.ErrorGroupID)

	if r.StartDate != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, r.StartDate.UTC())
	}
	if r.EndDate != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, r.EndDate.UTC())
	}

	for _, m := range r.Meta {
		conds = append(conds, "(metadata LIKE ? OR message LIKE ?)")
		pat := "%" + m.Value + "%"
		args = append(args, pat, pat)
	}

	for _, tok := range search.Tokens(r.FreeText) {
		conds = append(conds, "(message LIKE ? OR metadata LIKE ? OR stack_trace LIKE ?)")
		pat := "%" + tok + "%"
		args = append(args, pat, pat, pat)
	}
	return conds, args
}

type scanner interface {
	Scan(dst ...any) error
}

func scanLog(sc scanner) (*models.LogEntry, error) {
	var e models.LogEntry
	var env string
	var meta, stack, cctx, groupID, traceID, spanID, parentID sql.NullString

	err := sc.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.AppName, &e.SessionID,
		&env, &meta, &stack, &cctx, &groupID, &traceID, &spanID, &parentID)
	if err != nil {
		return nil, err
	}

	e.Timestamp = e.Timestamp.UTC()
	if err := json.Unmarshal([]byte(env), &e.Environment); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if e.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	if e.Context, err = decodeJSON(cctx); err != nil {
		return nil, err
	}
	e.StackTrace = stack.String
	e.ErrorGroupID = nullStr(groupID)
	e.TraceID = nullStr(traceID)
	e.SpanID = nullStr(spanID)
	e.ParentSpanID = nullStr(parentID)
	return &e, nil
}
