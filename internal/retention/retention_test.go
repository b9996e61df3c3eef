package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/pkg/models"
)

type fakeStore struct {
	mu sync.Mutex

	settings    models.RetentionSettings
	settingsErr error

	logCutoff   *time.Time
	traceCutoff *time.Time
	spanCutoff  *time.Time
	groupCutoff *time.Time

	orphansCalled  bool
	reclaimDeleted int64
	expireCalls    int
	deleteErr      error
}

func (f *fakeStore) GetSettings(ctx context.Context) (models.RetentionSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.settingsErr
}

func (f *fakeStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.logCutoff = &cutoff
	return 10, nil
}

func (f *fakeStore) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traceCutoff = &cutoff
	return 4, nil
}

func (f *fakeStore) DeleteSpansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spanCutoff = &cutoff
	return 6, nil
}

func (f *fakeStore) DeleteErrorGroupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCutoff = &cutoff
	return 2, nil
}

func (f *fakeStore) DeleteOrphanSpans(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphansCalled = true
	return 1, nil
}

func (f *fakeStore) ReclaimSpace(ctx context.Context, deleted int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimDeleted = deleted
	return nil
}

func (f *fakeStore) ExpireStaleSpans(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls++
	return 0, nil
}

func TestRunCleanupCutoffs(t *testing.T) {
	store := &fakeStore{}
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	settings := models.RetentionSettings{
		LogsRetentionDays:        7,
		TracesRetentionDays:      14,
		SpansRetentionDays:       14,
		ErrorGroupsRetentionDays: 30,
	}

	res, err := RunCleanup(context.Background(), store, settings, now)
	require.NoError(t, err)

	require.NotNil(t, store.logCutoff)
	assert.True(t, store.logCutoff.Equal(now.AddDate(0, 0, -7)))
	require.NotNil(t, store.traceCutoff)
	assert.True(t, store.traceCutoff.Equal(now.AddDate(0, 0, -14)))
	require.NotNil(t, store.groupCutoff)
	assert.True(t, store.groupCutoff.Equal(now.AddDate(0, 0, -30)))

	assert.True(t, store.orphansCalled)
	assert.EqualValues(t, 10, res.LogsDeleted)
	assert.EqualValues(t, 4, res.TracesDeleted)
	assert.EqualValues(t, 6, res.SpansDeleted)
	assert.EqualValues(t, 2, res.ErrorGroupsDeleted)
	assert.EqualValues(t, 1, res.OrphanSpansDeleted)
	assert.EqualValues(t, 23, res.TotalDeleted())
	assert.Equal(t, res.TotalDeleted(), store.reclaimDeleted)
}

func TestRunCleanupSkipsDisabledCategories(t *testing.T) {
	store := &fakeStore{}
	settings := models.RetentionSettings{
		LogsRetentionDays:        0,
		TracesRetentionDays:      -1,
		SpansRetentionDays:       0,
		ErrorGroupsRetentionDays: 30,
	}

	res, err := RunCleanup(context.Background(), store, settings, time.Now())
	require.NoError(t, err)
	assert.Nil(t, store.logCutoff)
	assert.Nil(t, store.traceCutoff)
	assert.Nil(t, store.spanCutoff)
	require.NotNil(t, store.groupCutoff)
	assert.Zero(t, res.LogsDeleted)
	// Orphan sweep only runs when trace or span cleanup is on.
	assert.False(t, store.orphansCalled)
}

func TestRunCleanupPropagatesErrors(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("locked")}
	settings := models.RetentionSettings{LogsRetentionDays: 7}

	_, err := RunCleanup(context.Background(), store, settings, time.Now())
	assert.Error(t, err)
}

func TestSchedulerRunsAndStops(t *testing.T) {
	store := &fakeStore{settings: models.RetentionSettings{
		LogsRetentionDays: 7, CleanupEnabled: true, CleanupIntervalHours: 1,
	}}
	s := NewScheduler(store, time.Minute, slog.New(slog.DiscardHandler))
	s.tickOverride = 5 * time.Millisecond

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := store.expireCalls
		store.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Greater(t, store.expireCalls, 0)
	assert.NotNil(t, store.logCutoff)
}

func TestSchedulerRestartAndDoubleStop(t *testing.T) {
	store := &fakeStore{settings: models.RetentionSettings{CleanupIntervalHours: 1}}
	s := NewScheduler(store, 0, slog.New(slog.DiscardHandler))

	s.Start()
	s.Restart()
	s.Restart()
	s.Stop()
	s.Stop()
}
