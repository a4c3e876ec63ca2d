// Package ratelimit implements a sliding window rate limiter for
// transfer admission, keyed by source address.
package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter.
// Thread-safe for concurrent access.
type RateLimiter struct {
	maxRequests int                    // Maximum requests allowed in window
	window      time.Duration          // Time window for rate limiting
	requests    map[string][]time.Time // Address -> request timestamps
	mu          sync.Mutex             // Protects requests map
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: number of requests allowed within the time window
// window: duration of the sliding window (e.g. 1 second)
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Allow checks whether a request from the given address is admitted.
// When the limit is exceeded it returns false together with the number
// of seconds until the oldest request leaves the window.
func (rl *RateLimiter) Allow(address string) (bool, float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// Drop expired requests from the sliding window.
	valid := rl.requests[address][:0]
	for _, ts := range rl.requests[address] {
		if now.Sub(ts) < rl.window {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= rl.maxRequests {
		rl.requests[address] = valid
		reset := rl.window - now.Sub(valid[0])
		if reset < 0 {
			reset = 0
		}
		return false, reset.Seconds()
	}

	rl.requests[address] = append(valid, now)
	return true, 0
}

// Remaining returns how many requests the address has left in the
// current window.
func (rl *RateLimiter) Remaining(address string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	count := 0
	for _, ts := range rl.requests[address] {
		if now.Sub(ts) < rl.window {
			count++
		}
	}
	remaining := rl.maxRequests - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears all rate limit data for an address.
func (rl *RateLimiter) Reset(address string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, address)
}
