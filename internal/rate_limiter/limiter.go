package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles one kind of outgoing chat action, such as sends or
// typing notifications. It remembers when it last refused so callers can
// show how long the user has to wait.
type Limiter struct {
	mu        sync.Mutex
	bucket    *rate.Limiter
	penalty   time.Duration
	refusedAt time.Time
}

// NewLimiter allows requests actions per window, bursting up to requests.
// A non-positive requests disables limiting.
func NewLimiter(requests int, window time.Duration) *Limiter {
	if requests <= 0 || window <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 0)}
	}

	return &Limiter{
		bucket:  rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests),
		penalty: window / time.Duration(requests),
	}
}

// Allow reports whether one action may happen now.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket.Allow() {
		return true
	}

	l.refusedAt = time.Now()
	return false
}

// Wait blocks until one action may happen or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// RetryAfter is the time left before the next action is expected to be
// allowed after the last refusal. Zero if nothing was refused recently.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refusedAt.IsZero() {
		return 0
	}

	remaining := l.penalty - time.Since(l.refusedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
