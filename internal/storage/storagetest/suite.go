// Package storagetest runs one conformance suite against every storage
// engine. Engine choice is a deployment detail, so identical call sequences
// must produce identical observable results regardless of backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/internal/storage"
	"github.com/perch-obs/perch/pkg/models"
)

// baseTime is millisecond-aligned because engines persist timestamps at
// millisecond precision.
var baseTime = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

// Run exercises the full storage contract against a fresh store per
// subtest. Callers pass an opener that provisions an isolated database.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("LogRoundtrip", func(t *testing.T) { testLogRoundtrip(t, open(t)) })
	t.Run("QueryLogsFilters", func(t *testing.T) { testQueryLogsFilters(t, open(t)) })
	t.Run("QueryLogsSearch", func(t *testing.T) { testQueryLogsSearch(t, open(t)) })
	t.Run("QueryLogsPagination", func(t *testing.T) { testQueryLogsPagination(t, open(t)) })
	t.Run("UpsertErrorGroup", func(t *testing.T) { testUpsertErrorGroup(t, open(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, open(t)) })
	t.Run("ErrorGroupQueriesAndStatus", func(t *testing.T) { testErrorGroupQueries(t, open(t)) })
	t.Run("TraceLifecycle", func(t *testing.T) { testTraceLifecycle(t, open(t)) })
	t.Run("SpanLifecycle", func(t *testing.T) { testSpanLifecycle(t, open(t)) })
	t.Run("StaleSpans", func(t *testing.T) { testStaleSpans(t, open(t)) })
	t.Run("RetentionBoundary", func(t *testing.T) { testRetentionBoundary(t, open(t)) })
	t.Run("OrphanSpans", func(t *testing.T) { testOrphanSpans(t, open(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, open(t)) })
	t.Run("PurgeAndStats", func(t *testing.T) { testPurgeAndStats(t, open(t)) })
}

func newLog(id string, ts time.Time) *models.LogEntry {
	return &models.LogEntry{
		ID:        id,
		Timestamp: ts,
		Level:     models.LevelInfo,
		Message:   "request handled",
		AppName:   "checkout",
		SessionID: "sess-1",
		Environment: models.Environment{
			Runtime: "node", Version: "20.1.0", Platform: "linux",
		},
	}
}

func newGroup(fingerprint string, seen time.Time) *models.ErrorGroup {
	return &models.ErrorGroup{
		Fingerprint:       fingerprint,
		Message:           "connection refused",
		AppName:           "checkout",
		FirstSeen:         seen,
		LastSeen:          seen,
		StackTracePreview: "at dial (src/db.js:10:4)",
	}
}

func newTrace(id string, start time.Time) *models.Trace {
	return &models.Trace{
		ID:        id,
		Name:      "GET /orders",
		AppName:   "checkout",
		SessionID: "sess-1",
		StartTime: start,
		Status:    models.TraceRunning,
	}
}

func newSpan(id, traceID string, start time.Time) *models.Span {
	return &models.Span{
		ID:            id,
		TraceID:       traceID,
		Name:          "db.query",
		OperationType: "db",
		StartTime:     start,
		Status:        models.TraceRunning,
	}
}

func testLogRoundtrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	traceID := "trace-1"
	e := newLog("log-1", baseTime)
	e.Level = models.LevelError
	e.Metadata = map[string]any{"userId": "42", "retries": float64(3)}
	e.Context = map[string]any{"route": "/orders"}
	e.StackTrace = "Error: boom\n    at handler (src/app.js:10:4)"
	e.TraceID = &traceID

	require.NoError(t, s.InsertLog(ctx, e))

	got, err := s.GetLog(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, got.Timestamp.Equal(baseTime), "timestamp %v", got.Timestamp)
	assert.Equal(t, e.Level, got.Level)
	assert.Equal(t, e.Message, got.Message)
	assert.Equal(t, e.Environment, got.Environment)
	assert.Equal(t, e.Metadata, got.Metadata)
	assert.Equal(t, e.Context, got.Context)
	assert.Equal(t, e.StackTrace, got.StackTrace)
	require.NotNil(t, got.TraceID)
	assert.Equal(t, traceID, *got.TraceID)
	assert.Nil(t, got.ErrorGroupID)
	assert.Nil(t, got.ParentSpanID)

	_, err = s.GetLog(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testQueryLogsFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := newLog(fmt.Sprintf("log-%d", i), baseTime.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			e.Level = models.LevelError
		}
		if i == 4 {
			e.AppName = "billing"
			e.SessionID = "sess-2"
		}
		require.NoError(t, s.InsertLog(ctx, e))
	}

	logs, total, err := s.QueryLogs(ctx, models.LogFilter{Level: models.LevelError})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, logs, 3)
	// Newest first.
	assert.Equal(t, "log-4", logs[0].ID)
	assert.Equal(t, "log-0", logs[2].ID)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{AppName: "billing"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryLogs(ctx, models.LogFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	// Date bounds are inclusive on both ends.
	start := baseTime.Add(1 * time.Minute)
	end := baseTime.Add(3 * time.Minute)
	_, total, err = s.QueryLogs(ctx, models.LogFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func testQueryLogsSearch(t *testing.T, s storage.Store) {
	ctx := context.Background()

	a := newLog("log-a", baseTime)
	a.Level = models.LevelError
	a.Message = "database connection refused"
	require.NoError(t, s.InsertLog(ctx, a))

	b := newLog("log-b", baseTime.Add(time.Second))
	b.Message = "payment accepted"
	b.Metadata = map[string]any{"region": "eu-west", "userId": "42"}
	require.NoError(t, s.InsertLog(ctx, b))

	// Free text matches whole words on every engine, FTS or fallback.
	logs, total, err := s.QueryLogs(ctx, models.LogFilter{Search: "connection refused"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-a", logs[0].ID)

	// Inline level filter combined with free text.
	_, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "level:error connection"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// Unrecognized key becomes a metadata filter.
	logs, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "region:eu-west"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-b", logs[0].ID)

	// Mixed-case metadata keys match on every engine, including ones that
	// target the stored key exactly.
	logs, total, err = s.QueryLogs(ctx, models.LogFilter{Search: "userId:42"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-b", logs[0].ID)

	// Explicit structured parameter wins over the inline one.
	_, total, err = s.QueryLogs(ctx, models.LogFilter{Level: models.LevelInfo, Search: "level:error"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func testQueryLogsPagination(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.InsertLog(ctx, newLog(fmt.Sprintf("log-%02d", i), baseTime.Add(time.Duration(i)*time.Second))))
	}

	page1, total, err := s.QueryLogs(ctx, models.LogFilter{Limit: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	require.Len(t, page1, 4)
	assert.Equal(t, "log-09", page1[0].ID)

	page3, total, err := s.QueryLogs(ctx, models.LogFilter{Limit: 4, Offset: 8})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	require.Len(t, page3, 2)
	assert.Equal(t, "log-01", page3[0].ID)
	assert.Equal(t, "log-00", page3[1].ID)

	// Negative offset clamps to zero, zero limit to the default.
	all, _, err := s.QueryLogs(ctx, models.LogFilter{Offset: -5})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func testUpsertErrorGroup(t *testing.T, s storage.Store) {
	ctx := context.Background()

	id, err := s.UpsertErrorGroup(ctx, newGroup("fp-1", baseTime))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	g, err := s.GetErrorGroup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fp-1", g.Fingerprint)
	assert.EqualValues(t, 1, g.OccurrenceCount)
	assert.Equal(t, models.StatusUnreviewed, g.Status)
	assert.Equal(t, "connection refused", g.Message)
	assert.Equal(t, "at dial (src/db.js:10:4)", g.StackTracePreview)

	// Re-seeing the fingerprint bumps the count and advances lastSeen but
	// never changes firstSeen or the stored message.
	later := newGroup("fp-1", baseTime.Add(time.Hour))
	later.Message = "different wording"
	id2, err := s.UpsertErrorGroup(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	g, err = s.GetErrorGroup(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.OccurrenceCount)
	assert.True(t, g.FirstSeen.Equal(baseTime), "firstSeen %v", g.FirstSeen)
	assert.True(t, g.LastSeen.Equal(baseTime.Add(time.Hour)), "lastSeen %v", g.LastSeen)
	assert.Equal(t, "connection refused", g.Message)

	// An out-of-order occurrence must not move lastSeen backwards.
	_, err = s.UpsertErrorGroup(ctx, newGroup("fp-1", baseTime.Add(-time.Hour)))
	require.NoError(t, err)
	g, err = s.GetErrorGroup(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, g.OccurrenceCount)
	assert.True(t, g.LastSeen.Equal(baseTime.Add(time.Hour)))

	_, err = s.GetErrorGroup(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testConcurrentUpserts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertErrorGroup(ctx, newGroup("fp-race", baseTime))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	groups, total, err := s.QueryErrorGroups(ctx, models.ErrorGroupFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, groups, 1)
	assert.EqualValues(t, workers, groups[0].OccurrenceCount)
}

func testErrorGroupQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g := newGroup(fmt.Sprintf("fp-%d", i), baseTime.Add(time.Duration(i)*time.Minute))
		g.Message = fmt.Sprintf("timeout in step %d", i)
		if i == 2 {
			g.AppName = "billing"
		}
		id, err := s.UpsertErrorGroup(ctx, g)
		require.NoError(t, err)
		// fp-1 gets extra occurrences for the sort check.
		if i == 1 {
			for j := 0; j < 3; j++ {
				_, err := s.UpsertErrorGroup(ctx, newGroup("fp-1", baseTime.Add(time.Hour)))
				require.NoError(t, err)
			}
		}
		if i == 0 {
			ok, err := s.UpdateErrorGroupStatus(ctx, id, models.StatusResolved)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	}

	_, total, err := s.QueryErrorGroups(ctx, models.ErrorGroupFilter{AppName: "billing"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryErrorGroups(ctx, models.ErrorGroupFilter{Status: models.StatusResolved})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = s.QueryErrorGroups(ctx, models.ErrorGroupFilter{Search: "step 2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	groups, _, err := s.QueryErrorGroups(ctx, models.ErrorGroupFilter{
		SortBy: models.SortOccurrenceCount, SortOrder: "desc",
	})
	require.NoError(t, err)
	require.NotEmpty(t, groups)
	assert.Equal(t, "fp-1", groups[0].Fingerprint)

	ok, err := s.UpdateErrorGroupStatus(ctx, "missing", models.StatusIgnored)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := s.ErrorGroupStats(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus[models.StatusResolved])
	assert.EqualValues(t, 2, stats.ByStatus[models.StatusUnreviewed])
}

func testTraceLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tr := newTrace("trace-1", baseTime)
	tr.Metadata = map[string]any{"httpMethod": "GET"}
	require.NoError(t, s.CreateTrace(ctx, tr))

	got, err := s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, models.TraceRunning, got.Status)
	assert.EqualValues(t, 0, got.SpanCount)
	assert.Nil(t, got.EndTime)
	assert.Nil(t, got.DurationMs)
	assert.Equal(t, tr.Metadata, got.Metadata)

	ok, err := s.EndTrace(ctx, "trace-1", models.TraceCompleted, baseTime.Add(250*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, models.TraceCompleted, got.Status)
	require.NotNil(t, got.DurationMs)
	assert.EqualValues(t, 250, *got.DurationMs)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(baseTime.Add(250*time.Millisecond)))

	// Ending is monotonic.
	ok, err = s.EndTrace(ctx, "trace-1", models.TraceCompleted, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.EndTrace(ctx, "missing", models.TraceCompleted, baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetTrace(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Query filters.
	traces, total, err := s.QueryTraces(ctx, models.TraceFilter{AppName: "checkout"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, traces, 1)

	minDur := int64(500)
	_, total, err = s.QueryTraces(ctx, models.TraceFilter{MinDurationMs: &minDur})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func testSpanLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateTrace(ctx, newTrace("trace-1", baseTime)))

	require.NoError(t, s.CreateSpan(ctx, newSpan("span-1", "trace-1", baseTime)))
	child := newSpan("span-2", "trace-1", baseTime.Add(10*time.Millisecond))
	parent := "span-1"
	child.ParentSpanID = &parent
	require.NoError(t, s.CreateSpan(ctx, child))

	err := s.CreateSpan(ctx, newSpan("span-x", "missing", baseTime))
	assert.ErrorIs(t, err, models.ErrNotFound)

	tr, err := s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, tr.SpanCount)

	// Ending a span as error bumps the trace error count exactly once.
	ok, err := s.EndSpan(ctx, "span-2", models.TraceError, baseTime.Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.EndSpan(ctx, "span-2", models.TraceError, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	tr, err = s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, tr.ErrorCount)

	ok, err = s.EndSpan(ctx, "missing", models.TraceCompleted, baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	// A trace with span errors ends as "error" even when asked to complete.
	ok, err = s.EndTrace(ctx, "trace-1", models.TraceCompleted, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	tr, err = s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, models.TraceError, tr.Status)

	spans, err := s.SpansByTrace(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "span-1", spans[0].ID)
	require.NotNil(t, spans[1].ParentSpanID)
	assert.Equal(t, "span-1", *spans[1].ParentSpanID)
	require.NotNil(t, spans[1].DurationMs)
	assert.EqualValues(t, 20, *spans[1].DurationMs)

	// Logs attached to the trace come back oldest first.
	traceID := "trace-1"
	for i := 0; i < 2; i++ {
		e := newLog(fmt.Sprintf("tlog-%d", i), baseTime.Add(time.Duration(i)*time.Second))
		e.TraceID = &traceID
		require.NoError(t, s.InsertLog(ctx, e))
	}
	logs, err := s.LogsByTrace(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "tlog-0", logs[0].ID)
}

func testStaleSpans(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.CreateTrace(ctx, newTrace("trace-1", old)))
	require.NoError(t, s.CreateSpan(ctx, newSpan("span-old", "trace-1", old)))
	require.NoError(t, s.CreateSpan(ctx, newSpan("span-new", "trace-1", time.Now().UTC())))

	ended, err := s.ExpireStaleSpans(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, ended)

	spans, err := s.SpansByTrace(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, models.TraceError, spans[0].Status)
	assert.Equal(t, models.TraceRunning, spans[1].Status)

	tr, err := s.GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, tr.ErrorCount)
}

func testRetentionBoundary(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cutoff := baseTime

	require.NoError(t, s.InsertLog(ctx, newLog("log-older", cutoff.Add(-time.Minute))))
	require.NoError(t, s.InsertLog(ctx, newLog("log-at", cutoff)))
	require.NoError(t, s.InsertLog(ctx, newLog("log-newer", cutoff.Add(time.Minute))))

	// The boundary is inclusive: a row exactly at the cutoff is deleted.
	n, err := s.DeleteLogsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.GetLog(ctx, "log-newer")
	require.NoError(t, err)
	_, err = s.GetLog(ctx, "log-at")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Same predicate shape for groups, keyed on lastSeen.
	_, err = s.UpsertErrorGroup(ctx, newGroup("fp-old", cutoff.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = s.UpsertErrorGroup(ctx, newGroup("fp-new", cutoff.Add(time.Hour)))
	require.NoError(t, err)
	n, err = s.DeleteErrorGroupsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.ReclaimSpace(ctx, n))
}

func testOrphanSpans(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := baseTime.Add(-24 * time.Hour)

	require.NoError(t, s.CreateTrace(ctx, newTrace("trace-old", old)))
	require.NoError(t, s.CreateSpan(ctx, newSpan("span-old", "trace-old", baseTime)))
	require.NoError(t, s.CreateTrace(ctx, newTrace("trace-live", baseTime)))
	require.NoError(t, s.CreateSpan(ctx, newSpan("span-live", "trace-live", baseTime)))

	n, err := s.DeleteTracesBefore(ctx, old)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// The old trace's span survived the trace delete but is now orphaned.
	n, err = s.DeleteOrphanSpans(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	spans, err := s.SpansByTrace(ctx, "trace-live")
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func testSettings(t *testing.T, s storage.Store) {
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRetentionSettings(), got)

	want := models.RetentionSettings{
		LogsRetentionDays:        3,
		TracesRetentionDays:      5,
		SpansRetentionDays:       5,
		ErrorGroupsRetentionDays: 60,
		CleanupEnabled:           false,
		CleanupIntervalHours:     6,
	}
	require.NoError(t, s.UpdateSettings(ctx, want))

	got, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testPurgeAndStats(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.InsertLog(ctx, newLog("log-1", baseTime)))
	require.NoError(t, s.InsertLog(ctx, newLog("log-2", baseTime.Add(time.Minute))))
	_, err := s.UpsertErrorGroup(ctx, newGroup("fp-1", baseTime))
	require.NoError(t, err)
	require.NoError(t, s.CreateTrace(ctx, newTrace(uuid.NewString(), baseTime)))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.LogCount)
	assert.EqualValues(t, 1, st.ErrorGroupCount)
	assert.EqualValues(t, 1, st.TraceCount)
	require.NotNil(t, st.OldestLog)
	assert.True(t, st.OldestLog.Equal(baseTime))

	res, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.LogsDeleted)
	assert.EqualValues(t, 1, res.TracesDeleted)
	assert.EqualValues(t, 1, res.ErrorGroupsDeleted)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.LogCount)
	assert.Nil(t, st.OldestLog)

	// Settings survive a purge.
	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRetentionSettings(), settings)

	require.NoError(t, s.Ping(ctx))
}
