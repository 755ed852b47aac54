package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func newTestRetrier(cfg Config) (*Retrier, *[]time.Duration) {
	log, _ := test.NewNullLogger()
	r := New(cfg, log)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r, slept := newTestRetrier(Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2})

	calls := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	r, slept := newTestRetrier(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2})

	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2)
}

func TestDo_NonRetryableErrorReturnsImmediately(t *testing.T) {
	permanent := errors.New("declined")
	r, slept := newTestRetrier(Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	})

	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		return permanent
	})

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestDo_CancelledContext(t *testing.T) {
	r, _ := newTestRetrier(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := r.Do(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestDelay_CappedAtMaxDelay(t *testing.T) {
	r := New(Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}, logrus.New())

	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 3*time.Second, r.delay(3))
	assert.Equal(t, 3*time.Second, r.delay(8))
}
