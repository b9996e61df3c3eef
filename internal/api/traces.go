package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perch-obs/perch/pkg/models"
)

func (s *Server) createTrace(w http.ResponseWriter, r *http.Request) {
	var t models.Trace
	if !decodeBody(w, r, &t) {
		return
	}

	details := map[string]string{}
	if t.Name == "" {
		details["name"] = "is required"
	}
	if t.AppName == "" {
		details["appName"] = "is required"
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.StartTime.IsZero() {
		t.StartTime = time.Now().UTC()
	}
	t.Status = models.TraceRunning
	t.SpanCount = 0
	t.ErrorCount = 0
	t.EndTime = nil
	t.DurationMs = nil

	if err := s.store.CreateTrace(r.Context(), &t); err != nil {
		s.logger.Error("creating trace failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating trace")
		return
	}
	writeJSON(w, http.StatusCreated, &t)
}

func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.TraceFilter{
		AppName:   q.Get("appName"),
		SessionID: q.Get("sessionId"),
		Status:    q.Get("status"),
		Name:      q.Get("name"),
	}

	details := map[string]string{}
	f.StartDate = timeParam(q.Get("startDate"), "startDate", details)
	f.EndDate = timeParam(q.Get("endDate"), "endDate", details)
	f.Limit = intParam(q.Get("limit"), "limit", details)
	f.Offset = intParam(q.Get("offset"), "offset", details)
	if raw := q.Get("minDurationMs"); raw != "" {
		n := int64(intParam(raw, "minDurationMs", details))
		f.MinDurationMs = &n
	}
	if raw := q.Get("maxDurationMs"); raw != "" {
		n := int64(intParam(raw, "maxDurationMs", details))
		f.MaxDurationMs = &n
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	traces, total, err := s.store.QueryTraces(r.Context(), f)
	if err != nil {
		s.logger.Error("querying traces failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying traces")
		return
	}

	limit, offset := paginationOf(f.Limit, f.Offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// getTrace returns the trace with its span tree and attached logs in one
// response.
func (s *Server) getTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.store.GetTrace(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		s.logger.Error("fetching trace failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching trace")
		return
	}

	spans, err := s.store.SpansByTrace(r.Context(), id)
	if err != nil {
		s.logger.Error("fetching spans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching spans")
		return
	}
	logs, err := s.store.LogsByTrace(r.Context(), id)
	if err != nil {
		s.logger.Error("fetching trace logs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching trace logs")
		return
	}
	if spans == nil {
		spans = []*models.Span{}
	}
	if logs == nil {
		logs = []*models.LogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace": t,
		"spans": spans,
		"logs":  logs,
	})
}

type endRequest struct {
	Status  string     `json:"status"`
	EndTime *time.Time `json:"endTime"`
}

func (req *endRequest) resolve(w http.ResponseWriter) (string, time.Time, bool) {
	status := req.Status
	if status == "" {
		status = models.TraceCompleted
	}
	if status != models.TraceCompleted && status != models.TraceError {
		writeValidation(w, map[string]string{"status": "must be completed or error"})
		return "", time.Time{}, false
	}
	end := time.Now().UTC()
	if req.EndTime != nil {
		end = req.EndTime.UTC()
	}
	return status, end, true
}

func (s *Server) endTrace(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, end, ok := req.resolve(w)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	ended, err := s.store.EndTrace(r.Context(), id, status, end)
	if err != nil {
		s.logger.Error("ending trace failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ending trace")
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "trace not found or already ended")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) createSpan(w http.ResponseWriter, r *http.Request) {
	var sp models.Span
	if !decodeBody(w, r, &sp) {
		return
	}

	details := map[string]string{}
	if sp.TraceID == "" {
		details["traceId"] = "is required"
	}
	if sp.Name == "" {
		details["name"] = "is required"
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	if sp.StartTime.IsZero() {
		sp.StartTime = time.Now().UTC()
	}
	sp.Status = models.TraceRunning
	sp.EndTime = nil
	sp.DurationMs = nil

	err := s.store.CreateSpan(r.Context(), &sp)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		s.logger.Error("creating span failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating span")
		return
	}
	writeJSON(w, http.StatusCreated, &sp)
}

func (s *Server) endSpan(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, end, ok := req.resolve(w)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	ended, err := s.store.EndSpan(r.Context(), id, status, end)
	if err != nil {
		s.logger.Error("ending span failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ending span")
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "span not found or already ended")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
