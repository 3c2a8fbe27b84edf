package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-key token bucket. The server keys it by client address
// on the credential endpoints, so it throttles password guessing before a
// request reaches the lockout counter.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	cleanup  *time.Ticker
	done     chan struct{}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows maxRequests per key within window, refilling evenly
// across the window. Idle keys are dropped by a background sweep until
// Stop is called.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*entry),
		burst:    maxRequests,
		idle:     3 * window,
		now:      time.Now,
		cleanup:  time.NewTicker(5 * time.Minute),
		done:     make(chan struct{}),
	}
	if maxRequests > 0 && window > 0 {
		l.limit = rate.Every(window / time.Duration(maxRequests))
	}
	go l.cleanupIdle()
	return l
}

// WithClock overrides time.Now for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow records a request for key and reports whether it is within the
// limit. An empty key is never limited.
func (l *Limiter) Allow(key string) bool {
	if key == "" || l.burst <= 0 || l.limit == 0 {
		return true
	}
	e, now := l.get(key)
	return e.limiter.AllowN(now, 1)
}

// get returns the bucket for key, creating it on first use.
func (l *Limiter) get(key string) (*entry, time.Time) {
	l.mu.RLock()
	e, ok := l.limiters[key]
	now := l.now()
	l.mu.RUnlock()

	if ok {
		l.mu.Lock()
		e.lastSeen = now
		l.mu.Unlock()
		return e, now
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.limiters[key]; ok {
		e.lastSeen = now
		return e, now
	}
	e = &entry{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.limiters[key] = e
	return e, now
}

func (l *Limiter) cleanupIdle() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanup.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := l.now().Add(-l.idle)
	for key, e := range l.limiters {
		if e.lastSeen.Before(stale) {
			delete(l.limiters, key)
		}
	}
}

// Stop ends the background sweep.
func (l *Limiter) Stop() {
	l.cleanup.Stop()
	close(l.done)
}
