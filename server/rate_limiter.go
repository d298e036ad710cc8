package main

import (
	"sync"
	"time"
)

type windowCount struct {
	started time.Time
	length  time.Duration
	hits    int
}

// RateLimiter throttles API callers per key with fixed counting windows. This
// protects the transport; per-user request quotas are decided elsewhere.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]windowCount
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]windowCount)}
}

// Allow reports whether the key may proceed under limit requests per window.
// A non-positive limit disables throttling for the call.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.started) >= w.length {
		w = windowCount{started: now, length: window}
	}
	if w.hits >= limit {
		return false
	}
	w.hits++
	rl.windows[key] = w
	return true
}
