package api

import (
	"net/http"
	"time"

	"github.com/perch-obs/perch/internal/retention"
	"github.com/perch-obs/perch/pkg/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("storage ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"storage": s.store.Kind(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"storage": s.store.Kind(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("reading settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// updateSettings applies a partial update; unspecified fields keep their
// stored values. The cleanup scheduler is nudged so a new interval takes
// effect immediately.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.RetentionSettingsPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	details := map[string]string{}
	nonNegative := func(name string, v *int) {
		if v != nil && *v < 0 {
			details[name] = "must be zero or greater"
		}
	}
	nonNegative("logsRetentionDays", patch.LogsRetentionDays)
	nonNegative("tracesRetentionDays", patch.TracesRetentionDays)
	nonNegative("spansRetentionDays", patch.SpansRetentionDays)
	nonNegative("errorGroupsRetentionDays", patch.ErrorGroupsRetentionDays)
	if patch.CleanupIntervalHours != nil && *patch.CleanupIntervalHours < 1 {
		details["cleanupIntervalHours"] = "must be at least 1"
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return
	}

	current, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("reading settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading settings")
		return
	}
	updated := patch.Apply(current)
	if err := s.store.UpdateSettings(r.Context(), updated); err != nil {
		s.logger.Error("updating settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "updating settings")
		return
	}

	if s.scheduler != nil {
		s.scheduler.Restart()
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) storageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading storage stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading storage stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// runCleanup triggers one retention pass with the stored settings,
// regardless of whether scheduled cleanup is enabled.
func (s *Server) runCleanup(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("reading settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading settings")
		return
	}

	res, err := retention.RunCleanup(r.Context(), s.store, settings, time.Now())
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "running cleanup")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Purge(r.Context())
	if err != nil {
		s.logger.Error("purge failed", "error", err)
		writeError(w, http.StatusInternalServerError, "purging storage")
		return
	}
	s.logger.Info("storage purged",
		"logs", res.LogsDeleted, "traces", res.TracesDeleted,
		"spans", res.SpansDeleted, "errorGroups", res.ErrorGroupsDeleted)
	writeJSON(w, http.StatusOK, res)
}
