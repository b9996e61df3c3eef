// Package retention runs age-based cleanup over the store on a schedule
// driven by the persisted retention settings.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/perch-obs/perch/pkg/models"
)

// Store is the slice of storage cleanup needs.
type Store interface {
	GetSettings(ctx context.Context) (models.RetentionSettings, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSpansBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteErrorGroupsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOrphanSpans(ctx context.Context) (int64, error)
	ReclaimSpace(ctx context.Context, deleted int64) error
	ExpireStaleSpans(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunCleanup deletes everything older than the per-category retention
// windows, measured from now. A window of zero or less days leaves that
// category untouched. Orphaned spans are swept after trace deletion so a
// span never outlives its trace by more than one pass.
func RunCleanup(ctx context.Context, store Store, settings models.RetentionSettings, now time.Time) (models.CleanupResult, error) {
	started := time.Now()
	var res models.CleanupResult

	cutoff := func(days int) time.Time {
		return now.UTC().AddDate(0, 0, -days)
	}

	if settings.LogsRetentionDays > 0 {
		n, err := store.DeleteLogsBefore(ctx, cutoff(settings.LogsRetentionDays))
		if err != nil {
			return res, fmt.Errorf("cleaning logs: %w", err)
		}
		res.LogsDeleted = n
	}
	if settings.TracesRetentionDays > 0 {
		n, err := store.DeleteTracesBefore(ctx, cutoff(settings.TracesRetentionDays))
		if err != nil {
			return res, fmt.Errorf("cleaning traces: %w", err)
		}
		res.TracesDeleted = n
	}
	if settings.SpansRetentionDays > 0 {
		n, err := store.DeleteSpansBefore(ctx, cutoff(settings.SpansRetentionDays))
		if err != nil {
			return res, fmt.Errorf("cleaning spans: %w", err)
		}
		res.SpansDeleted = n
	}
	if settings.ErrorGroupsRetentionDays > 0 {
		n, err := store.DeleteErrorGroupsBefore(ctx, cutoff(settings.ErrorGroupsRetentionDays))
		if err != nil {
			return res, fmt.Errorf("cleaning error groups: %w", err)
		}
		res.ErrorGroupsDeleted = n
	}

	if settings.TracesRetentionDays > 0 || settings.SpansRetentionDays > 0 {
		n, err := store.DeleteOrphanSpans(ctx)
		if err != nil {
			return res, fmt.Errorf("cleaning orphan spans: %w", err)
		}
		res.OrphanSpansDeleted = n
	}

	if err := store.ReclaimSpace(ctx, res.TotalDeleted()); err != nil {
		return res, fmt.Errorf("reclaiming space: %w", err)
	}

	res.DurationMs = time.Since(started).Milliseconds()
	return res, nil
}
