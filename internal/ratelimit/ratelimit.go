// Package ratelimit spaces out page fetches so the target site is not
// hammered.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	Wait(ctx context.Context) error
}

// FixedDelayLimiter enforces a minimum interval between consecutive
// actions. The first call never waits.
type FixedDelayLimiter struct {
	delay      time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewFixedDelay(delay time.Duration) *FixedDelayLimiter {
	return &FixedDelayLimiter{delay: delay}
}

func (l *FixedDelayLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.delay > 0 && !l.lastAction.IsZero() {
		if elapsed := time.Since(l.lastAction); elapsed < l.delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.delay - elapsed):
			}
		}
	}

	l.lastAction = time.Now()
	return nil
}

// None is a pass-through limiter for tests and delay-free runs.
type None struct{}

func (None) Wait(ctx context.Context) error { return ctx.Err() }
