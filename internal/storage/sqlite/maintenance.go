package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/perch-obs/perch/pkg/models"
)

func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM logs WHERE timestamp <= ?", cutoff)
}

func (s *Store) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM traces WHERE start_time <= ?", cutoff)
}

func (s *Store) DeleteSpansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM spans WHERE start_time <= ?", cutoff)
}

func (s *Store) DeleteErrorGroupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "DELETE FROM error_groups WHERE last_seen <= ?", cutoff)
}

func (s *Store) deleteBefore(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting expired rows: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteOrphanSpans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM spans WHERE trace_id NOT IN (SELECT id FROM traces)")
	if err != nil {
		return 0, fmt.Errorf("deleting orphan spans: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimSpace runs an incremental vacuum after large deletions. Small
// deletions are left to WAL checkpointing.
func (s *Store) ReclaimSpace(ctx context.Context, deleted int64) error {
	if deleted <= vacuumThreshold {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
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
		r, err := s.db.ExecContext(ctx, step.query)
		if err != nil {
			return res, fmt.Errorf("purging: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return res, err
		}
		*step.dst = n
	}

	if err := s.ReclaimSpace(ctx, res.TotalDeleted()); err != nil {
		return res, err
	}
	res.DurationMs = time.Since(started).Milliseconds()
	return res, nil
}
