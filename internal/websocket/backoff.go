package websocket

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffConfig bounds the delay between reconnect attempts.
type BackoffConfig struct {
	Base time.Duration
	Max  time.Duration
	// MaxAttempts is the number of consecutive failed attempts tolerated
	// before the manager gives up. Zero retries forever.
	MaxAttempts uint64
	// JitterPercent spreads each delay by up to this percentage.
	JitterPercent uint64
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:          500 * time.Millisecond,
		Max:           30 * time.Second,
		JitterPercent: 20,
	}
}

// build returns a fresh backoff sequence. Sequences are stateful, so one is
// built per run of consecutive failures.
func (c BackoffConfig) build() retry.Backoff {
	base := c.Base
	if base <= 0 {
		base = DefaultBackoff().Base
	}
	ceiling := c.Max
	if ceiling < base {
		ceiling = base
	}

	b := retry.NewExponential(base)
	if c.JitterPercent > 0 {
		b = retry.WithJitterPercent(c.JitterPercent, b)
	}
	b = retry.WithCappedDuration(ceiling, b)
	if c.MaxAttempts > 0 {
		b = retry.WithMaxRetries(c.MaxAttempts, b)
	}

	return b
}
