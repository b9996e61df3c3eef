package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/perch-obs/perch/pkg/models"
)

func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM logs WHERE timestamp <= $1", cutoff)
}

func (s *Store) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM traces WHERE start_time <= $1", cutoff)
}

func (s *Store) DeleteSpansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM spans WHERE start_time <= $1", cutoff)
}

func (s *Store) DeleteErrorGroupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM error_groups WHERE last_seen <= $1", cutoff)
}

func (s *Store) deleteBefore(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx, query, utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired rows: %w", err)
	}
	return res.RowsAffected(), nil
}

func (s *Store) DeleteOrphanSpans(ctx context.Context) (int64, error) {
	res, err := s.pool.Exec(ctx,
		"DELETE FROM spans WHERE trace_id NOT IN (SELECT id FROM traces)")
	if err != nil {
		return 0, fmt.Errorf("deleting orphan spans: %w", err)
	}
	return res.RowsAffected(), nil
}

// ReclaimSpace is a no-op: PostgreSQL's autovacuum reclaims dead tuples on
// its own schedule.
func (s *Store) ReclaimSpace(ctx context.Context, deleted int64) error {
	return nil
}

// Purge deletes all stored data, leaving settings intact.
func (s *Store) Purge(ctx context.Context) (models.CleanupResult, error) {
	started := time.Now()
	var res models.CleanupResult

	steps := []struct {
		query string
		dst   *int64
	}{
		{"DELETE FROM logs", &res.LogsDeleted},
		{"DELETE FROM spans", &res.SpansDeleted},
		{"DELETE FROM traces", &res.TracesDeleted},
		{"DELETE FROM error_groups", &res.ErrorGroupsDeleted},
	}
	for _, step := range steps {
		r, err := s.pool.Exec(ctx, step.query)
		if err != nil {
			return res, fmt.Errorf("purging: %w", err)
		}
		*step.dst = r.RowsAffected()
	}
	res.DurationMs = time.Since(started).Milliseconds()
	return res, nil
}
