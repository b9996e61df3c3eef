package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perch-obs/perch/pkg/models"
)

const traceColumns = `id, name, app_name, session_id, start_time, end_time,
	duration_ms, status, span_count, error_count, metadata`

const spanColumns = `id, trace_id, parent_span_id, name, operation_type,
	start_time, end_time, duration_ms, status, metadata`

func (s *Store) CreateTrace(ctx context.Context, t *models.Trace) error {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	status := t.Status
	if status == "" {
		status = models.TraceRunning
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (`+traceColumns+`)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, ?, 0, 0, ?)`,
		t.ID, t.Name, t.AppName, t.SessionID, fmtTime(t.StartTime), status, meta)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}
	return nil
}

func (s *Store) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+traceColumns+" FROM traces WHERE id = ?", id)
	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) QueryTraces(ctx context.Context, f models.TraceFilter) ([]*models.Trace, int64, error) {
	f = f.Normalize()

	var conds []string
	var args []any
	eq := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	eq("app_name", f.AppName)
	eq("session_id", f.SessionID)
	eq("status", f.Status)
	if f.Name != "" {
		conds = append(conds, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	if f.MinDurationMs != nil {
		conds = append(conds, "duration_ms >= ?")
		args = append(args, *f.MinDurationMs)
	}
	if f.MaxDurationMs != nil {
		conds = append(conds, "duration_ms <= ?")
		args = append(args, *f.MaxDurationMs)
	}
	if f.StartDate != nil {
		conds = append(conds, "start_time >= ?")
		args = append(args, fmtTime(*f.StartDate))
	}
	if f.EndDate != nil {
		conds = append(conds, "start_time <= ?")
		args = append(args, fmtTime(*f.EndDate))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting traces: %w", err)
	}

	query := "SELECT " + traceColumns + " FROM traces" + where +
		" ORDER BY start_time DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	traces := make([]*models.Trace, 0, f.Limit)
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, 0, err
		}
		traces = append(traces, t)
	}
	return traces, total, rows.Err()
}

// EndTrace completes a running trace. A trace that accumulated span errors
// ends as "error" no matter what the caller asks for.
func (s *Store) EndTrace(ctx context.Context, id, status string, endTime time.Time) (bool, error) {
	var start string
	err := s.db.QueryRowContext(ctx,
		"SELECT start_time FROM traces WHERE id = ?", id).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading trace start: %w", err)
	}
	st, err := parseTime(start)
	if err != nil {
		return false, err
	}
	dur := endTime.Sub(st).Milliseconds()
	if dur < 0 {
		dur = 0
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE traces
		SET end_time = ?, duration_ms = ?,
		    status = CASE WHEN error_count > 0 THEN 'error' ELSE ? END
		WHERE id = ? AND status = 'running'`,
		fmtTime(endTime), dur, status, id)
	if err != nil {
		return false, fmt.Errorf("ending trace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateSpan inserts a span and increments the owning trace's span count in
// one transaction. The count update doubles as the trace existence check.
func (s *Store) CreateSpan(ctx context.Context, sp *models.Span) error {
	meta, err := encodeJSON(sp.Metadata)
	if err != nil {
		return err
	}
	status := sp.Status
	if status == "" {
		status = models.TraceRunning
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning span insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE traces SET span_count = span_count + 1 WHERE id = ?", sp.TraceID)
	if err != nil {
		return fmt.Errorf("bumping span count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return models.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO spans (`+spanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		sp.ID, sp.TraceID, strPtr(sp.ParentSpanID), sp.Name, sp.OperationType,
		fmtTime(sp.StartTime), status, meta)
	if err != nil {
		return fmt.Errorf("inserting span: %w", err)
	}
	return tx.Commit()
}

// EndSpan completes a running span; an "error" completion also increments
// the owning trace's error count. The status guard makes both effects
// happen at most once per span.
func (s *Store) EndSpan(ctx context.Context, id, status string, endTime time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning span end: %w", err)
	}
	defer tx.Rollback()

	var traceID, start string
	err = tx.QueryRowContext(ctx,
		"SELECT trace_id, start_time FROM spans WHERE id = ?", id).Scan(&traceID, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading span: %w", err)
	}
	st, err := parseTime(start)
	if err != nil {
		return false, err
	}
	dur := endTime.Sub(st).Milliseconds()
	if dur < 0 {
		dur = 0
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE spans SET end_time = ?, duration_ms = ?, status = ?
		WHERE id = ? AND status = 'running'`,
		fmtTime(endTime), dur, status, id)
	if err != nil {
		return false, fmt.Errorf("ending span: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}

	if status == models.TraceError {
		if _, err := tx.ExecContext(ctx,
			"UPDATE traces SET error_count = error_count + 1 WHERE id = ?", traceID); err != nil {
			return false, fmt.Errorf("bumping trace error count: %w", err)
		}
	}
	return true, tx.Commit()
}

func (s *Store) SpansByTrace(ctx context.Context, traceID string) ([]*models.Span, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+spanColumns+" FROM spans WHERE trace_id = ? ORDER BY start_time ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("querying spans: %w", err)
	}
	defer rows.Close()

	var spans []*models.Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// ExpireStaleSpans force-ends running spans older than cutoff as errors,
// using the sweep time as their end time.
func (s *Store) ExpireStaleSpans(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM spans WHERE status = 'running' AND start_time <= ?", fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("finding stale spans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var ended int64
	for _, id := range ids {
		ok, err := s.EndSpan(ctx, id, models.TraceError, now)
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

func scanTrace(sc scanner) (*models.Trace, error) {
	var t models.Trace
	var start string
	var end, meta sql.NullString
	var dur sql.NullInt64
	err := sc.Scan(&t.ID, &t.Name, &t.AppName, &t.SessionID, &start, &end,
		&dur, &t.Status, &t.SpanCount, &t.ErrorCount, &meta)
	if err != nil {
		return nil, err
	}
	if t.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if t.EndTime, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	if dur.Valid {
		t.DurationMs = &dur.Int64
	}
	if t.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSpan(sc scanner) (*models.Span, error) {
	var sp models.Span
	var start string
	var parent, end, meta sql.NullString
	var dur sql.NullInt64
	err := sc.Scan(&sp.ID, &sp.TraceID, &parent, &sp.Name, &sp.OperationType,
		&start, &end, &dur, &sp.Status, &meta)
	if err != nil {
		return nil, err
	}
	sp.ParentSpanID = nullStr(parent)
	if sp.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if sp.EndTime, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	if dur.Valid {
		sp.DurationMs = &dur.Int64
	}
	if sp.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	return &sp, nil
}
