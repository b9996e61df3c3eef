package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/perch-obs/perch/pkg/models"
)

// maxBatchSize bounds one ingest request.
const maxBatchSize = 500

// handleIngest accepts a single log entry or a JSON array of entries. The
// whole batch is validated before anything is stored, so a rejected request
// never leaves partial state.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	entries, ok := decodeEntries(w, body)
	if !ok {
		return
	}
	if len(entries) == 0 {
		writeValidation(w, map[string]string{"body": "no log entries provided"})
		return
	}
	if len(entries) > maxBatchSize {
		writeValidation(w, map[string]string{
			"body": fmt.Sprintf("batch exceeds %d entries", maxBatchSize),
		})
		return
	}

	details := map[string]string{}
	for i, e := range entries {
		validateEntry(e, i, len(entries) > 1, details)
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	accepted := make([]*models.LogEntry, 0, len(entries))
	for _, e := range entries {
		stored, err := s.ingest.Ingest(r.Context(), e)
		if err != nil {
			s.logger.Error("ingest failed", "app", e.AppName, "error", err)
			writeError(w, http.StatusInternalServerError, "storing log entry")
			return
		}
		accepted = append(accepted, stored)
	}

	if len(accepted) == 1 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"id":      accepted[0].ID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"accepted": len(accepted),
		"ids":      entryIDs(accepted),
	})
}

func decodeEntries(w http.ResponseWriter, body []byte) ([]*models.LogEntry, bool) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []*models.LogEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return nil, false
		}
		return entries, true
	}
	var e models.LogEntry
	if err := json.Unmarshal(body, &e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return []*models.LogEntry{&e}, true
}

func validateEntry(e *models.LogEntry, index int, batch bool, details map[string]string) {
	field := func(name string) string {
		if batch {
			return fmt.Sprintf("[%d].%s", index, name)
		}
		return name
	}
	if e == nil {
		details[field("entry")] = "must be an object"
		return
	}
	if e.Message == "" {
		details[field("message")] = "is required"
	}
	if e.AppName == "" {
		details[field("appName")] = "is required"
	}
	if e.Level == "" {
		e.Level = models.LevelInfo
	} else if !models.ValidLevel(e.Level) {
		details[field("level")] = "must be one of debug, info, warn, error"
	}
}

func entryIDs(entries []*models.LogEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	f, ok := logFilterFromQuery(w, r)
	if !ok {
		return
	}

	logs, total, err := s.store.QueryLogs(r.Context(), f)
	if err != nil {
		s.logger.Error("querying logs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying logs")
		return
	}

	limit, offset := paginationOf(f.Limit, f.Offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetLog(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log entry not found")
		return
	}
	if err != nil {
		s.logger.Error("fetching log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching log entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func logFilterFromQuery(w http.ResponseWriter, r *http.Request) (models.LogFilter, bool) {
	q := r.URL.Query()
	f := models.LogFilter{
		Level:        q.Get("level"),
		AppName:      q.Get("appName"),
		SessionID:    q.Get("sessionId"),
		TraceID:      q.Get("traceId"),
		SpanID:       q.Get("spanId"),
		ErrorGroupID: q.Get("errorGroupId"),
		Search:       q.Get("search"),
	}

	details := map[string]string{}
	if f.Level != "" && !models.ValidLevel(f.Level) {
		details["level"] = "must be one of debug, info, warn, error"
	}
	f.StartDate = timeParam(q.Get("startDate"), "startDate", details)
	f.EndDate = timeParam(q.Get("endDate"), "endDate", details)
	f.Limit = intParam(q.Get("limit"), "limit", details)
	f.Offset = intParam(q.Get("offset"), "offset", details)
	if len(details) > 0 {
		writeValidation(w, details)
		return f, false
	}
	return f, true
}

func timeParam(raw, name string, details map[string]string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		details[name] = "must be an RFC 3339 timestamp"
		return nil
	}
	u := t.UTC()
	return &u
}

func intParam(raw, name string, details map[string]string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		details[name] = "must be a non-negative integer"
		return 0
	}
	return n
}

// paginationOf mirrors the clamping the store applies, for response
// metadata.
func paginationOf(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = models.DefaultPageSize
	}
	if limit > models.MaxPageSize {
		limit = models.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
