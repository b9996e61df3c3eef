// Package storage defines the storage interface for logs, error groups,
// traces, and spans, and the factory that selects an engine from
// configuration.
package storage

import (
	"context"
	"time"

	"github.com/perch-obs/perch/pkg/models"
)

// Store is the interface all storage engines implement. Engine choice is a
// deployment detail: identical call sequences must produce identical
// observable results on every engine. Implementations must be safe for
// concurrent use.
type Store interface {
	// Kind identifies the engine ("sqlite", "postgres", "mysql").
	Kind() string

	// HasFullTextSearch reports whether the engine maintains a dedicated
	// full-text index over logs. Engines without one serve free-text
	// queries through the substring fallback path.
	HasFullTextSearch() bool

	// Log operations. Logs are immutable once inserted.
	InsertLog(ctx context.Context, entry *models.LogEntry) error
	GetLog(ctx context.Context, id string) (*models.LogEntry, error)
	QueryLogs(ctx context.Context, f models.LogFilter) ([]*models.LogEntry, int64, error)

	// UpsertErrorGroup finds or creates the group for g.Fingerprint and
	// returns its id. On an existing group it atomically increments the
	// occurrence count and advances lastSeen; concurrent inserts of the
	// same novel fingerprint are resolved via the unique constraint, never
	// surfaced to the caller.
	UpsertErrorGroup(ctx context.Context, g *models.ErrorGroup) (string, error)
	GetErrorGroup(ctx context.Context, id string) (*models.ErrorGroup, error)
	QueryErrorGroups(ctx context.Context, f models.ErrorGroupFilter) ([]*models.ErrorGroup, int64, error)
	// UpdateErrorGroupStatus returns false when no group has the given id.
	UpdateErrorGroupStatus(ctx context.Context, id, status string) (bool, error)
	ErrorGroupStats(ctx context.Context, appName string) (*models.ErrorGroupStats, error)

	// Trace/span operations.
	CreateTrace(ctx context.Context, trace *models.Trace) error
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	QueryTraces(ctx context.Context, f models.TraceFilter) ([]*models.Trace, int64, error)
	// EndTrace is monotonic: it only applies to a running trace, and a
	// trace with errorCount > 0 ends as "error" regardless of the
	// requested status.
	EndTrace(ctx context.Context, id, status string, endTime time.Time) (bool, error)
	// CreateSpan returns models.ErrNotFound when the trace id does not
	// resolve. It increments the owning trace's span count.
	CreateSpan(ctx context.Context, span *models.Span) error
	// EndSpan only applies to a running span; ending with status "error"
	// increments the trace's error count exactly once.
	EndSpan(ctx context.Context, id, status string, endTime time.Time) (bool, error)
	SpansByTrace(ctx context.Context, traceID string) ([]*models.Span, error)
	LogsByTrace(ctx context.Context, traceID string) ([]*models.LogEntry, error)
	// ExpireStaleSpans force-ends running spans that started before cutoff.
	ExpireStaleSpans(ctx context.Context, cutoff time.Time) (int64, error)

	// Retention settings and cleanup primitives. The age predicates are
	// inclusive at the cutoff and never lock whole tables, so cleanup is
	// safe to run concurrently with ingestion.
	GetSettings(ctx context.Context) (models.RetentionSettings, error)
	UpdateSettings(ctx context.Context, s models.RetentionSettings) error
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSpansBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteErrorGroupsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteOrphanSpans removes spans whose trace no longer exists.
	DeleteOrphanSpans(ctx context.Context) (int64, error)
	// ReclaimSpace gives the engine a chance to return freed disk space
	// after a large deletion. Optional; may be a no-op.
	ReclaimSpace(ctx context.Context, deleted int64) error
	Purge(ctx context.Context) (models.CleanupResult, error)

	Stats(ctx context.Context) (models.StorageStats, error)
	Ping(ctx context.Context) error
	Close() error
}
