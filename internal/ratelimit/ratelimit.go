// Package ratelimit provides per-client request admission control using a
// sliding window: events are counted within a continuously moving trailing
// interval, not a fixed bucket that resets at window boundaries.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request from the given client key is admitted.
// Denial is not an error: the caller must return a too-many-requests
// response. The error return is reserved for backend failures (Redis).
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time, err error)
}

// SlidingWindowLimiter implements an in-memory sliding window. Each client
// key owns its own lock, so contended keys never block unrelated ones.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.RWMutex
	keys map[string]*keyWindow
}

type keyWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Option configures a SlidingWindowLimiter.
type Option func(*SlidingWindowLimiter)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindowLimiter) {
		l.now = now
	}
}

func NewSlidingWindowLimiter(limit int, window time.Duration, opts ...Option) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		keys:   make(map[string]*keyWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	w := l.keyFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Evict timestamps that have aged out of the trailing window.
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}

	if len(w.stamps) >= l.limit {
		// Denied requests are not recorded. Admission resumes once the
		// oldest recorded timestamp ages out.
		return false, 0, w.stamps[0].Add(l.window), nil
	}

	w.stamps = append(w.stamps, now)
	remaining := l.limit - len(w.stamps)
	return true, remaining, w.stamps[0].Add(l.window), nil
}

func (l *SlidingWindowLimiter) keyFor(key string) *keyWindow {
	l.mu.RLock()
	w, ok := l.keys[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.keys[key]; ok {
		return w
	}
	w = &keyWindow{}
	l.keys[key] = w
	return w
}

// Sweep removes keys whose newest timestamp is older than idleFor, bounding
// memory for long-idle clients. Returns the number of keys removed.
func (l *SlidingWindowLimiter) Sweep(idleFor time.Duration) int {
	cutoff := l.now().Add(-idleFor)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.keys {
		w.mu.Lock()
		idle := len(w.stamps) == 0 || w.stamps[len(w.stamps)-1].Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (l *SlidingWindowLimiter) StartSweeper(ctx context.Context, interval, idleFor time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep(idleFor)
			case <-ctx.Done():
				return
			}
		}
	}()
}
