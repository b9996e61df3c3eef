package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs periodic cleanup passes and stale-span sweeps. The
// interval comes from the persisted settings and is re-read after every
// pass, so a settings change takes effect without restarting the process.
type Scheduler struct {
	store       Store
	logger      *slog.Logger
	spanTimeout time.Duration

	// tickOverride shortens the wait in tests.
	tickOverride time.Duration

	restartCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewScheduler builds a scheduler. spanTimeout <= 0 disables the
// stale-span sweep.
func NewScheduler(store Store, spanTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		logger:      logger,
		spanTimeout: spanTimeout,
		restartCh:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Restart makes the loop re-read settings immediately, e.g. after a
// settings update. Safe to call at any time; never blocks.
func (s *Scheduler) Restart() {
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

// Stop terminates the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.interval())
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.restartCh:
			timer.Stop()
			continue
		case <-timer.C:
			s.runPass()
		}
	}
}

// interval reads the configured cleanup interval, defaulting to an hour
// when settings are unreadable or the stored value is not positive.
func (s *Scheduler) interval() time.Duration {
	if s.tickOverride > 0 {
		return s.tickOverride
	}
	settings, err := s.store.GetSettings(context.Background())
	if err != nil {
		s.logger.Warn("reading retention settings failed", "error", err)
		return time.Hour
	}
	if settings.CleanupIntervalHours <= 0 {
		return time.Hour
	}
	return time.Duration(settings.CleanupIntervalHours) * time.Hour
}

func (s *Scheduler) runPass() {
	ctx := context.Background()

	if s.spanTimeout > 0 {
		ended, err := s.store.ExpireStaleSpans(ctx, time.Now().UTC().Add(-s.spanTimeout))
		if err != nil {
			s.logger.Warn("stale span sweep failed", "error", err)
		} else if ended > 0 {
			s.logger.Info("expired stale spans", "count", ended)
		}
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("reading retention settings failed", "error", err)
		return
	}
	if !settings.CleanupEnabled {
		return
	}

	res, err := RunCleanup(ctx, s.store, settings, time.Now())
	if err != nil {
		s.logger.Error("cleanup pass failed", "error", err)
		return
	}
	if res.TotalDeleted() > 0 {
		s.logger.Info("cleanup pass finished",
			"logs", res.LogsDeleted,
			"traces", res.TracesDeleted,
			"spans", res.SpansDeleted,
			"errorGroups", res.ErrorGroupsDeleted,
			"orphanSpans", res.OrphanSpansDeleted,
			"durationMs", res.DurationMs)
	}
}
