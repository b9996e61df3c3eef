package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO traces (`+traceColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, 0, 0, $7)`,
		t.ID, t.Name, t.AppName, t.SessionID, utc(t.StartTime), status, meta)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}
	return nil
}

func (s *Store) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+traceColumns+" FROM traces WHERE id = $1", id)
	t, err := scanTrace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) QueryTraces(ctx context.Context, f models.TraceFilter) ([]*models.Trace, int64, error) {
	f = f.Normalize()

	c := &cond{}
	if f.AppName != "" {
		c.add("app_name = $%d", f.AppName)
	}
	if f.SessionID != "" {
		c.add("session_id = $%d", f.SessionID)
	}
	if f.Status != "" {
		c.add("status = $%d", f.Status)
	}
	if f.Name != "" {
		c.add("name ILIKE $%d", "%"+f.Name+"%")
	}
	if f.MinDurationMs != nil {
		c.add("duration_ms >= $%d", *f.MinDurationMs)
	}
	if f.MaxDurationMs != nil {
		c.add("duration_ms <= $%d", *f.MaxDurationMs)
	}
	if f.StartDate != nil {
		c.add("start_time >= $%d", utc(*f.StartDate))
	}
	if f.EndDate != nil {
		c.add("start_time <= $%d", utc(*f.EndDate))
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM traces"+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting traces: %w", err)
	}

	query := fmt.Sprintf("SELECT "+traceColumns+" FROM traces"+c.where()+
		" ORDER BY start_time DESC LIMIT $%d OFFSET $%d", c.next(), c.next()+1)
	rows, err := s.pool.Query(ctx, query, append(c.args, f.Limit, f.Offset)...)
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

func (s *Store) EndTrace(ctx context.Context, id, status string, endTime time.Time) (bool, error) {
	var start time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT start_time FROM traces WHERE id = $1", id).Scan(&start)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading trace start: %w", err)
	}
	dur := endTime.Sub(start).Milliseconds()
	if dur < 0 {
		dur = 0
	}

	res, err := s.pool.Exec(ctx, `
		UPDATE traces
		SET end_time = $1, duration_ms = $2,
		    status = CASE WHEN error_count > 0 THEN 'error' ELSE $3 END
		WHERE id = $4 AND status = 'running'`,
		utc(endTime), dur, status, id)
	if err != nil {
		return false, fmt.Errorf("ending trace: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) CreateSpan(ctx context.Context, sp *models.Span) error {
	meta, err := encodeJSON(sp.Metadata)
	if err != nil {
		return err
	}
	status := sp.Status
	if status == "" {
		status = models.TraceRunning
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning span insert: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx,
		"UPDATE traces SET span_count = span_count + 1 WHERE id = $1", sp.TraceID)
	if err != nil {
		return fmt.Errorf("bumping span count: %w", err)
	}
	if res.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO spans (`+spanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, $8)`,
		sp.ID, sp.TraceID, strPtr(sp.ParentSpanID), sp.Name, sp.OperationType,
		utc(sp.StartTime), status, meta)
	if err != nil {
		return fmt.Errorf("inserting span: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) EndSpan(ctx context.Context, id, status string, endTime time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning span end: %w", err)
	}
	defer tx.Rollback(ctx)

	var traceID string
	var start time.Time
	err = tx.QueryRow(ctx,
		"SELECT trace_id, start_time FROM spans WHERE id = $1", id).Scan(&traceID, &start)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading span: %w", err)
	}
	dur := endTime.Sub(start).Milliseconds()
	if dur < 0 {
		dur = 0
	}

	res, err := tx.Exec(ctx, `
		UPDATE spans SET end_time = $1, duration_ms = $2, status = $3
		WHERE id = $4 AND status = 'running'`,
		utc(endTime), dur, status, id)
	if err != nil {
		return false, fmt.Errorf("ending span: %w", err)
	}
	if res.RowsAffected() == 0 {
		return false, nil
	}

	if status == models.TraceError {
		if _, err := tx.Exec(ctx,
			"UPDATE traces SET error_count = error_count + 1 WHERE id = $1", traceID); err != nil {
			return false, fmt.Errorf("bumping trace error count: %w", err)
		}
	}
	return true, tx.Commit(ctx)
}

func (s *Store) SpansByTrace(ctx context.Context, traceID string) ([]*models.Span, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+spanColumns+" FROM spans WHERE trace_id = $1 ORDER BY start_time ASC", traceID)
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

func (s *Store) ExpireStaleSpans(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM spans WHERE status = 'running' AND start_time <= $1", utc(cutoff))
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
	var meta []byte
	err := sc.Scan(&t.ID, &t.Name, &t.AppName, &t.SessionID, &t.StartTime, &t.EndTime,
		&t.DurationMs, &t.Status, &t.SpanCount, &t.ErrorCount, &meta)
	if err != nil {
		return nil, err
	}
	t.StartTime = t.StartTime.UTC()
	t.EndTime = utcPtr(t.EndTime)
	if t.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSpan(sc scanner) (*models.Span, error) {
	var sp models.Span
	var meta []byte
	err := sc.Scan(&sp.ID, &sp.TraceID, &sp.ParentSpanID, &sp.Name, &sp.OperationType,
		&sp.StartTime, &sp.EndTime, &sp.DurationMs, &sp.Status, &meta)
	if err != nil {
		return nil, err
	}
	sp.StartTime = sp.StartTime.UTC()
	sp.EndTime = utcPtr(sp.EndTime)
	if sp.Metadata, err = decodeJSON(meta); err != nil {
		return nil, err
	}
	return &sp, nil
}
