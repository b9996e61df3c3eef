package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	janitorEvery = 10 * time.Minute
	limiterIdle  = time.Hour
)

// ipRateLimiter keeps one token bucket per client IP. Entries idle for an
// hour are evicted by a background janitor, which runs until stop.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rps      rate.Limit
	burst    int

	done     chan struct{}
	stopOnce sync.Once

	// tickOverride replaces the janitor ticker in tests.
	tickOverride <-chan time.Time
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &ipRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (l *ipRateLimiter) janitor() {
	tick := l.tickOverride
	if tick == nil {
		t := time.NewTicker(janitorEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-tick:
			l.sweep(time.Now())
		case <-l.done:
			return
		}
	}
}

func (l *ipRateLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.limiters, ip)
		}
	}
}

func (l *ipRateLimiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// middleware rejects requests over the per-IP budget. RemoteAddr has
// already been rewritten by the RealIP middleware.
func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(r.RemoteAddr).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
