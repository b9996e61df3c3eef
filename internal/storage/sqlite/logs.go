package sqlite

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

const logColumns = `l.id, l.timestamp, l.level, l.message, l.app_name, l.session_id,
	l.environment, l.metadata, l.stack_trace, l.context,
	l.error_group_id, l.trace_id, l.span_id, l.parent_span_id`

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
		INSERT INTO logs (id, timestamp, level, message, app_name, session_id,
			environment, metadata, stack_trace, context,
			error_group_id, trace_id, span_id, parent_span_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, fmtTime(e.Timestamp), e.Level, e.Message, e.AppName, e.SessionID,
		string(env), meta, stack, cctx,
		strPtr(e.ErrorGroupID), strPtr(e.TraceID), strPtr(e.SpanID), strPtr(e.ParentSpanID))
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id string) (*models.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM logs l WHERE l.id = ?", id)
	e, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// QueryLogs filters and pages log entries, newest first. Free text goes
// through the FTS5 index as prefix-token matches; all other predicates are
// plain indexed comparisons.
func (s *Store) QueryLogs(ctx context.Context, f models.LogFilter) ([]*models.LogEntry, int64, error) {
	r := f.Resolve()

	conds, args := logConds(r)
	from := "FROM logs l"
	if match := ftsMatch(r.FreeText); match != "" {
		from = "FROM logs l JOIN logs_fts ON logs_fts.rowid = l.rowid"
		conds = append([]string{"logs_fts MATCH ?"}, conds...)
		args = append([]any{match}, args...)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) "+from+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting logs: %w", err)
	}

	query := "SELECT " + logColumns + " " + from + where +
		" ORDER BY l.timestamp DESC LIMIT ? OFFSET ?"
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
		"SELECT "+logColumns+" FROM logs l WHERE l.trace_id = ? ORDER BY l.timestamp ASC", traceID)
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
			conds = append(conds, "l."+col+" = ?")
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
		conds = append(conds, "l.timestamp >= ?")
		args = append(args, fmtTime(*r.StartDate))
	}
	if r.EndDate != nil {
		conds = append(conds, "l.timestamp <= ?")
		args = append(args, fmtTime(*r.EndDate))
	}

	// Metadata is stored as an opaque JSON string here, so inline filters
	// degrade to substring matches over metadata or message.
	for _, m := range r.Meta {
		conds = append(conds, "(l.metadata LIKE ? OR l.message LIKE ?)")
		pat := "%" + m.Value + "%"
		args = append(args, pat, pat)
	}
	return conds, args
}

// ftsMatch builds an FTS5 MATCH expression of quoted prefix tokens, or ""
// when the free text has no indexable tokens.
func ftsMatch(freeText string) string {
	tokens := search.Tokens(freeText)
	if len(tokens) == 0 {
		return ""
	}
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = `"` + tok + `"*`
	}
	return strings.Join(parts, " ")
}

type scanner interface {
	Scan(dst ...any) error
}

func scanLog(sc scanner) (*models.LogEntry, error) {
	var e models.LogEntry
	var ts, env string
	var meta, stack, cctx, groupID, traceID, spanID, parentID sql.NullString

	err := sc.Scan(&e.ID, &ts, &e.Level, &e.Message, &e.AppName, &e.SessionID,
		&env, &meta, &stack, &cctx, &groupID, &traceID, &spanID, &parentID)
	if err != nil {
		return nil, err
	}

	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
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
