package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds the retry knobs for one pipeline call. There is no mutable
// process-wide state: callers pass a Config (usually Default) explicitly.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Default is the documented default retry policy.
var Default = Config{
	MaxAttempts:  3,
	InitialDelay: 1000 * time.Millisecond,
	MaxDelay:     10000 * time.Millisecond,
	Multiplier:   2.0,
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = Default.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = Default.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = Default.Multiplier
	}
	return c
}

func (c Config) backOff(ctx context.Context) backoff.BackOff {
	c = c.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	// zero jitter keeps the schedule exactly initial * multiplier^(k-1),
	// capped at MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1)), ctx)
}

// DelayForAttempt returns the delay inserted before attempt k (1-indexed).
// Attempt 1 runs immediately; no delay follows the last attempt.
func (c Config) DelayForAttempt(attempt int) time.Duration {
	c = c.normalized()
	if attempt <= 1 {
		return 0
	}
	d := float64(c.InitialDelay)
	for i := 2; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Do retries op on any failure up to MaxAttempts, waiting exponentially
// between attempts. The last error is surfaced once attempts are exhausted.
// Context cancellation interrupts inter-attempt waits.
func Do(ctx context.Context, cfg Config, op func() error) error {
	return backoff.Retry(op, cfg.backOff(ctx))
}

// DoClassified retries only errors retryable reports as transient. Anything
// else aborts immediately, without consuming the remaining attempt budget,
// and is returned as-is.
func DoClassified(ctx context.Context, cfg Config, retryable func(error) bool, op func() error) error {
	wrapped := func() error {
		if err := op(); err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	return backoff.Retry(wrapped, cfg.backOff(ctx))
}
