// Package ratelimit implements a sliding-window request limiter keyed
// by client IP. The default backend keeps per-key timestamps in a
// mutex-guarded map owned by one long-lived limiter instance; a Redis
// backend is available for multi-replica deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
// When denied, retryAfter is the suggested wait in seconds (at least 1).
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int)
}

// SlidingWindow is the in-process limiter backend.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewSlidingWindow builds an in-memory limiter allowing maxRequests per
// window per key.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records the request when permitted and reports the decision.
func (l *SlidingWindow) Allow(_ context.Context, key string) (bool, int) {
	now := time.Now()
	windowStart := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.requests[key][:0]
	for _, t := range l.requests[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	l.requests[key] = kept

	if len(kept) >= l.maxRequests {
		oldest := kept[0]
		retryAfter := int(oldest.Sub(windowStart).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	l.requests[key] = append(kept, now)
	return true, 0
}
