package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestLimiter(ticks <-chan time.Time) *ipRateLimiter {
	l := &ipRateLimiter{
		limiters:     make(map[string]*ipLimiterEntry),
		rps:          rate.Limit(1),
		burst:        1,
		done:         make(chan struct{}),
		tickOverride: ticks,
	}
	go l.janitor()
	return l
}

func TestJanitorEvictsIdleEntries(t *testing.T) {
	ticks := make(chan time.Time)
	l := newTestLimiter(ticks)
	defer l.stop()

	l.get("10.0.0.1")
	l.get("10.0.0.2")
	l.mu.Lock()
	l.limiters["10.0.0.1"].lastSeen = time.Now().Add(-2 * limiterIdle)
	l.mu.Unlock()

	ticks <- time.Now()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, stale := l.limiters["10.0.0.1"]
		_, fresh := l.limiters["10.0.0.2"]
		return !stale && fresh
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJanitorStops(t *testing.T) {
	ticks := make(chan time.Time)
	l := newTestLimiter(ticks)

	l.stop()
	l.stop() // idempotent

	// With the run loop gone, nothing drains the tick channel.
	time.Sleep(50 * time.Millisecond)
	select {
	case ticks <- time.Now():
		t.Fatal("janitor still running after stop")
	case <-time.After(100 * time.Millisecond):
	}
	assert.NotPanics(t, l.stop)
}
