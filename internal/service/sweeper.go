package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"medride/internal/redis"
)

const sweepLockName = "ride-expiry-sweep"

// RideExpirer cancels requested rides whose expiry has passed.
type RideExpirer interface {
	ExpireRides(ctx context.Context, limit int) (int, error)
}

// ExpirySweeper periodically cancels rides nobody bid on in time. When a
// lock store is set only one replica sweeps at a time.
type ExpirySweeper struct {
	rides     RideExpirer
	locks     redis.LockStoreInterface
	interval  time.Duration
	batchSize int
	log       logrus.FieldLogger
}

// NewExpirySweeper creates a new ExpirySweeper. locks may be nil.
func NewExpirySweeper(rides RideExpirer, locks redis.LockStoreInterface, interval time.Duration, batchSize int, log logrus.FieldLogger) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ExpirySweeper{
		rides:     rides,
		locks:     locks,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("ride expiry sweep failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep expires every overdue ride in batches and returns how many were
// cancelled. It does nothing if another replica holds the sweep lock.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	if s.locks != nil {
		token, ok, err := s.locks.Acquire(ctx, sweepLockName, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.log.Debug("ride expiry sweep already running elsewhere")
			return 0, nil
		}
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), sweepLockName, token); err != nil {
				s.log.WithError(err).Warn("failed to release sweep lock")
			}
		}()
	}

	total := 0
	for {
		n, err := s.rides.ExpireRides(ctx, s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.log.WithField("expired", total).Info("expired unanswered ride requests")
	}
	return total, nil
}
