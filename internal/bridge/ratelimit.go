// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-origin table; it is reset when exceeded.
const maxLimiters = 10000

type originLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles page requests per origin domain
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*originLimiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter. requestsPerSecond <= 0 disables limiting
// and returns nil; a nil *RateLimiter allows everything.
func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*originLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow reports whether origin may make another request now.
func (rl *RateLimiter) Allow(origin string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[origin]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*originLimiter)
		}
		l = &originLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[origin] = l
	}
	l.lastSeen = time.Now()
	return l.limiter.Allow()
}

// Cleanup drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for origin, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, origin)
		}
	}
}

// StartCleanup periodically drops idle limiters until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	if rl == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(interval)
			case <-stop:
				return
			}
		}
	}()
}
