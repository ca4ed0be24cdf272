package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter backed by a ring
// of the last limit accepted event times.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	filled int
	window time.Duration
}

// NewRateLimiter falls back to package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow reports whether an event at now is permitted and records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == len(r.ring) {
		// Oldest accepted event sits at next; it must have left the window.
		if now.Sub(r.ring[r.next]) < r.window {
			return false
		}
	} else {
		r.filled++
	}

	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}
