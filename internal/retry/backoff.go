// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int              // total attempts including the first
	BaseDelay   time.Duration    // delay before the second attempt
	MaxDelay    time.Duration    // cap on any single delay
	Multiplier  float64          // growth factor between delays
	Jitter      bool             // add up to 10% random delay
	Retryable   func(error) bool // nil retries every error
}

// DefaultConfig returns three attempts starting at 200ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Retrier executes functions with retry logic.
type Retrier struct {
	cfg   Config
	log   logrus.FieldLogger
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier. A MaxAttempts below 1 is treated as 1.
func New(cfg Config, log logrus.FieldLogger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Retrier{cfg: cfg, log: log, sleep: sleepCtx}
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. It returns the number of attempts made.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.log.WithField("attempt", attempt).Info("operation succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if r.cfg.Retryable != nil && !r.cfg.Retryable(err) {
			return attempt, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("operation failed, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}

	return r.cfg.MaxAttempts, fmt.Errorf("gave up after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

// delay returns the wait after the given 1-based attempt.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	if r.cfg.MaxDelay > 0 && d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	if r.cfg.Jitter {
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
