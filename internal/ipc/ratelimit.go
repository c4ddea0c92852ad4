package ipc

import (
	"sync"
	"time"
)

// RateLimiter bounds connection attempts per peer identity over a sliding
// window.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records an attempt for identity unless the window is already full.
func (r *RateLimiter) Allow(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.attempts[identity][:0]
	for _, t := range r.attempts[identity] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.maxAttempts {
		r.attempts[identity] = recent
		return false
	}
	r.attempts[identity] = append(recent, now)
	return true
}

// Forget drops the history for identity.
func (r *RateLimiter) Forget(identity string) {
	r.mu.Lock()
	delete(r.attempts, identity)
	r.mu.Unlock()
}
