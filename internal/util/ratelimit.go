package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket that replenishes at a fixed rate and
// holds at most one token, so calls are spaced evenly.
type RateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time // earliest time the next token is available
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive rate disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	var interval time.Duration
	if perMinute > 0 {
		interval = time.Minute / time.Duration(perMinute)
	}
	return &RateLimiter{interval: interval}
}

// reserve claims the next slot and returns how long to wait for it.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	return wait
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled. A cancelled wait still consumes its slot.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.interval == 0 {
		return ctx.Err()
	}
	wait := rl.reserve(time.Now())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
