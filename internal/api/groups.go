package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perch-obs/perch/pkg/models"
)

func (s *Server) listErrorGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ErrorGroupFilter{
		AppName:   q.Get("appName"),
		Status:    q.Get("status"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	details := map[string]string{}
	if f.Status != "" && !models.ValidGroupStatus(f.Status) {
		details["status"] = "must be one of unreviewed, reviewed, ignored, resolved"
	}
	f.Limit = intParam(q.Get("limit"), "limit", details)
	f.Offset = intParam(q.Get("offset"), "offset", details)
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	groups, total, err := s.store.QueryErrorGroups(r.Context(), f)
	if err != nil {
		s.logger.Error("querying error groups failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying error groups")
		return
	}

	limit, offset := paginationOf(f.Limit, f.Offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"errorGroups": groups,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (s *Server) getErrorGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetErrorGroup(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "error group not found")
		return
	}
	if err != nil {
		s.logger.Error("fetching error group failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching error group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// listOccurrences returns the log entries attached to one group, paged like
// the logs listing.
func (s *Server) listOccurrences(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetErrorGroup(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "error group not found")
			return
		}
		s.logger.Error("fetching error group failed", "error", err)
		writeError(w, http.StatusInternalServerError, "fetching error group")
		return
	}

	q := r.URL.Query()
	details := map[string]string{}
	f := models.LogFilter{
		ErrorGroupID: id,
		Limit:        intParam(q.Get("limit"), "limit", details),
		Offset:       intParam(q.Get("offset"), "offset", details),
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	logs, total, err := s.store.QueryLogs(r.Context(), f)
	if err != nil {
		s.logger.Error("querying occurrences failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying occurrences")
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

func (s *Server) updateErrorGroupStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !models.ValidGroupStatus(body.Status) {
		writeValidation(w, map[string]string{
			"status": "must be one of unreviewed, reviewed, ignored, resolved",
		})
		return
	}

	id := chi.URLParam(r, "id")
	ok, err := s.store.UpdateErrorGroupStatus(r.Context(), id, body.Status)
	if err != nil {
		s.logger.Error("updating error group status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "updating error group status")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "error group not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) errorGroupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ErrorGroupStats(r.Context(), r.URL.Query().Get("appName"))
	if err != nil {
		s.logger.Error("querying error group stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying error group stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
