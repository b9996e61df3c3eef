package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/internal/api"
	"github.com/perch-obs/perch/internal/fingerprint"
	"github.com/perch-obs/perch/internal/ingest"
	"github.com/perch-obs/perch/internal/storage"
	"github.com/perch-obs/perch/internal/storage/sqlite"
	"github.com/perch-obs/perch/pkg/models"
)

func newTestServer(t *testing.T, opts api.Options) (http.Handler, storage.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "perch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := api.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	svc := ingest.New(store, fingerprint.New(nil), hub, logger)
	srv := api.NewServer(opts, store, svc, nil, hub, logger)
	return srv.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestIngestSingle(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
		"level":   "info",
		"message": "service started",
		"appName": "checkout",
		"environment": map[string]any{
			"runtime": "node", "version": "20.1.0",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.ID)

	got := doJSON(t, h, http.MethodGet, "/api/v1/logs/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	var e models.LogEntry
	decode(t, got, &e)
	assert.False(t, e.Timestamp.IsZero())
	assert.Nil(t, e.ErrorGroupID)
}

func TestIngestValidation(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
		"level": "fatal",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "validation failed", resp.Error)
	assert.Contains(t, resp.Details, "message")
	assert.Contains(t, resp.Details, "appName")
	assert.Contains(t, resp.Details, "level")

	w = doJSON(t, h, http.MethodPost, "/api/v1/ingest", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatch(t *testing.T) {
	h, store := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", []map[string]any{
		{"level": "info", "message": "a", "appName": "checkout"},
		{"level": "warn", "message": "b", "appName": "checkout"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success  bool     `json:"success"`
		Accepted int      `json:"accepted"`
		IDs      []string `json:"ids"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Accepted)
	assert.Len(t, resp.IDs, 2)

	_, total, err := store.QueryLogs(t.Context(), models.LogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestIngestBatchRejectedAtomically(t *testing.T) {
	h, store := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", []map[string]any{
		{"level": "info", "message": "ok", "appName": "checkout"},
		{"level": "info", "appName": "checkout"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Details map[string]string `json:"details"`
	}
	decode(t, w, &resp)
	assert.Contains(t, resp.Details, "[1].message")

	// Nothing from the rejected batch may be stored.
	_, total, err := store.QueryLogs(t.Context(), models.LogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestErrorIngestGroups(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	for i := 0; i < 3; i++ {
		w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
			"level":      "error",
			"message":    fmt.Sprintf("user %d failed", i),
			"appName":    "checkout",
			"stackTrace": "Error: failed\n    at run (src/users.js:12:3)",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/api/v1/error-groups", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		ErrorGroups []*models.ErrorGroup `json:"errorGroups"`
		Total       int64                `json:"total"`
	}
	decode(t, w, &list)
	require.EqualValues(t, 1, list.Total)
	g := list.ErrorGroups[0]
	assert.EqualValues(t, 3, g.OccurrenceCount)
	assert.Equal(t, models.StatusUnreviewed, g.Status)

	// Occurrences listing returns the grouped logs.
	w = doJSON(t, h, http.MethodGet, "/api/v1/error-groups/"+g.ID+"/occurrences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var occ struct {
		Logs  []*models.LogEntry `json:"logs"`
		Total int64              `json:"total"`
	}
	decode(t, w, &occ)
	assert.EqualValues(t, 3, occ.Total)

	// Review workflow.
	w = doJSON(t, h, http.MethodPatch, "/api/v1/error-groups/"+g.ID+"/status",
		map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success")

	w = doJSON(t, h, http.MethodGet, "/api/v1/error-groups/"+g.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.ErrorGroup
	decode(t, w, &updated)
	assert.Equal(t, models.StatusResolved, updated.Status)

	w = doJSON(t, h, http.MethodPatch, "/api/v1/error-groups/"+g.ID+"/status",
		map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPatch, "/api/v1/error-groups/missing/status",
		map[string]string{"status": "ignored"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/error-groups/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.ErrorGroupStats
	decode(t, w, &stats)
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus[models.StatusResolved])
	assert.NotEmpty(t, stats.RecentTrend)
}

func TestListLogs(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	for i := 0; i < 5; i++ {
		level := "info"
		if i%2 == 0 {
			level = "error"
		}
		w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
			"level": level, "message": fmt.Sprintf("event %d", i), "appName": "checkout",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/api/v1/logs?level=error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Logs   []*models.LogEntry `json:"logs"`
		Total  int64              `json:"total"`
		Limit  int                `json:"limit"`
		Offset int                `json:"offset"`
	}
	decode(t, w, &resp)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, models.DefaultPageSize, resp.Limit)
	assert.Equal(t, 0, resp.Offset)

	w = doJSON(t, h, http.MethodGet, "/api/v1/logs?search="+"event&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.EqualValues(t, 5, resp.Total)
	assert.Len(t, resp.Logs, 2)
	assert.Equal(t, 2, resp.Limit)

	w = doJSON(t, h, http.MethodGet, "/api/v1/logs?level=fatal", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/logs?startDate=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTraceAndSpanFlow(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/traces", map[string]any{
		"name": "GET /orders", "appName": "checkout",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tr models.Trace
	decode(t, w, &tr)
	require.NotEmpty(t, tr.ID)
	assert.Equal(t, models.TraceRunning, tr.Status)

	// Missing fields rejected.
	w = doJSON(t, h, http.MethodPost, "/api/v1/traces", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Span on the trace.
	w = doJSON(t, h, http.MethodPost, "/api/v1/spans", map[string]any{
		"traceId": tr.ID, "name": "db.query", "operationType": "db",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sp models.Span
	decode(t, w, &sp)
	require.NotEmpty(t, sp.ID)

	// Span on an unknown trace.
	w = doJSON(t, h, http.MethodPost, "/api/v1/spans", map[string]any{
		"traceId": "missing", "name": "db.query",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// End the span as an error, then the trace as completed; the error
	// wins.
	w = doJSON(t, h, http.MethodPatch, "/api/v1/spans/"+sp.ID,
		map[string]string{"status": "error"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodPatch, "/api/v1/spans/"+sp.ID,
		map[string]string{"status": "error"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodPatch, "/api/v1/traces/"+tr.ID,
		map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success")

	// Ending again is a 404, the trace is terminal.
	w = doJSON(t, h, http.MethodPatch, "/api/v1/traces/"+tr.ID,
		map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Invalid status value.
	w = doJSON(t, h, http.MethodPatch, "/api/v1/traces/"+tr.ID,
		map[string]string{"status": "running"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Trace detail bundles spans and logs.
	w = doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
		"level": "info", "message": "inside trace", "appName": "checkout", "traceId": tr.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/v1/traces/"+tr.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Trace *models.Trace      `json:"trace"`
		Spans []*models.Span     `json:"spans"`
		Logs  []*models.LogEntry `json:"logs"`
	}
	decode(t, w, &detail)
	require.NotNil(t, detail.Trace)
	assert.Equal(t, models.TraceError, detail.Trace.Status)
	assert.NotNil(t, detail.Trace.DurationMs)
	assert.EqualValues(t, 1, detail.Trace.SpanCount)
	assert.EqualValues(t, 1, detail.Trace.ErrorCount)
	assert.Len(t, detail.Spans, 1)
	assert.Len(t, detail.Logs, 1)

	w = doJSON(t, h, http.MethodGet, "/api/v1/traces/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Listing with filters.
	w = doJSON(t, h, http.MethodGet, "/api/v1/traces?appName=checkout&status=error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Traces []*models.Trace `json:"traces"`
		Total  int64           `json:"total"`
	}
	decode(t, w, &list)
	assert.EqualValues(t, 1, list.Total)
}

func TestSettingsEndpoints(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var settings models.RetentionSettings
	decode(t, w, &settings)
	assert.Equal(t, models.DefaultRetentionSettings(), settings)

	// Partial update leaves other fields alone.
	w = doJSON(t, h, http.MethodPatch, "/api/v1/settings", map[string]any{
		"logsRetentionDays": 3,
		"cleanupEnabled":    false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &settings)
	assert.Equal(t, 3, settings.LogsRetentionDays)
	assert.False(t, settings.CleanupEnabled)
	assert.Equal(t, 14, settings.TracesRetentionDays)

	w = doJSON(t, h, http.MethodPatch, "/api/v1/settings", map[string]any{
		"logsRetentionDays": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPatch, "/api/v1/settings", map[string]any{
		"cleanupIntervalHours": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCleanupAndPurgeEndpoints(t *testing.T) {
	h, store := newTestServer(t, api.Options{})

	// One old log past the 7 day default window, one fresh.
	old := time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, store.InsertLog(t.Context(), &models.LogEntry{
		ID: "old", Timestamp: old, Level: "info", Message: "old", AppName: "checkout",
		Environment: models.Environment{Runtime: "node"},
	}))
	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", map[string]any{
		"level": "info", "message": "fresh", "appName": "checkout",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/settings/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res models.CleanupResult
	decode(t, w, &res)
	assert.EqualValues(t, 1, res.LogsDeleted)

	w = doJSON(t, h, http.MethodGet, "/api/v1/settings/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.StorageStats
	decode(t, w, &stats)
	assert.EqualValues(t, 1, stats.LogCount)

	w = doJSON(t, h, http.MethodPost, "/api/v1/settings/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.EqualValues(t, 1, res.LogsDeleted)
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "sqlite", resp["storage"])
}

func TestIngestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, api.Options{IngestRPS: 1, IngestBurst: 1})

	body := map[string]any{"level": "info", "message": "x", "appName": "checkout"}
	w := doJSON(t, h, http.MethodPost, "/api/v1/ingest", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/v1/ingest", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "rate limit"))

	// Other endpoints are not limited.
	w = doJSON(t, h, http.MethodGet, "/api/v1/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
