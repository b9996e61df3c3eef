// Package ingest turns incoming log entries into persisted records, routing
// error-level entries through fingerprint grouping and notifying live
// subscribers.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perch-obs/perch/internal/fingerprint"
	"github.com/perch-obs/perch/pkg/models"
)

// previewLines is how many stack-trace lines are kept on a new error group.
const previewLines = 3

// Store is the slice of storage the ingest pipeline needs.
type Store interface {
	InsertLog(ctx context.Context, entry *models.LogEntry) error
	UpsertErrorGroup(ctx context.Context, g *models.ErrorGroup) (string, error)
}

// Broadcaster pushes accepted entries to live subscribers.
type Broadcaster interface {
	BroadcastLog(entry *models.LogEntry)
}

// Service is the ingest pipeline.
type Service struct {
	store       Store
	fingerprint *fingerprint.Engine
	broadcaster Broadcaster
	logger      *slog.Logger
}

// New builds a Service. broadcaster may be nil when live streaming is off.
func New(store Store, fp *fingerprint.Engine, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		fingerprint: fp,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Ingest persists one entry, filling in the id and timestamp when absent.
// Error-level entries are attached to their fingerprint group first; if
// grouping fails the entry is still stored, just ungrouped.
func (s *Service) Ingest(ctx context.Context, e *models.LogEntry) (*models.LogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Timestamp = e.Timestamp.UTC()

	// The group reference is server-assigned; whatever the client sent is
	// discarded so non-error entries stay ungrouped and a failed upsert
	// leaves a null reference.
	e.ErrorGroupID = nil

	if e.Level == models.LevelError {
		s.attachGroup(ctx, e)
	}

	if err := s.store.InsertLog(ctx, e); err != nil {
		return nil, fmt.Errorf("storing log entry: %w", err)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastLog(e)
	}
	return e, nil
}

func (s *Service) attachGroup(ctx context.Context, e *models.LogEntry) {
	key := s.fingerprint.Key(e.Message, e.StackTrace, e.AppName)
	groupID, err := s.store.UpsertErrorGroup(ctx, &models.ErrorGroup{
		Fingerprint:       key,
		Message:           e.Message,
		AppName:           e.AppName,
		FirstSeen:         e.Timestamp,
		LastSeen:          e.Timestamp,
		StackTracePreview: fingerprint.StackPreview(e.StackTrace, previewLines),
	})
	if err != nil {
		s.logger.Warn("error grouping failed, storing log ungrouped",
			"app", e.AppName, "fingerprint", key, "error", err)
		return
	}
	e.ErrorGroupID = &groupID
}
