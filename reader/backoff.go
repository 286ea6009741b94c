package reader

import (
	"math/rand/v2"
	"time"

	appconfig "arbflow/config"
)

// Backoff computes reconnect delays as min(attempt, maxAttempts) * step plus
// a uniform jitter in [0, jitter). Jitter is drawn in whole seconds when the
// span is at least one second. The attempt counter only goes back to zero on
// Reset, which the feed calls after a successful connect.
type Backoff struct {
	step        time.Duration
	maxAttempts int
	jitter      time.Duration
	attempt     int
	randN       func(n int64) int64
}

func NewBackoff(cfg appconfig.BackoffConfig) *Backoff {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Backoff{
		step:        cfg.Step,
		maxAttempts: maxAttempts,
		jitter:      cfg.Jitter,
		randN:       rand.Int64N,
	}
}

// Next increments the attempt counter and returns the delay to wait.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	delay := time.Duration(min(b.attempt, b.maxAttempts)) * b.step

	if secs := int64(b.jitter / time.Second); secs > 0 {
		delay += time.Duration(b.randN(secs)) * time.Second
	} else if b.jitter > 0 {
		delay += time.Duration(b.randN(int64(b.jitter)))
	}
	return delay
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}
