package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRetryTransientFailuresThenSuccess(t *testing.T) {
	for k := 0; k < 5; k++ {
		slept := []time.Duration{}
		policy := DefaultRetryPolicy()
		policy.MaxRetries = 5
		policy.Sleep = recordingSleep(&slept)

		calls := 0
		res := policy.Run(context.Background(), func(ctx context.Context, attempt int) Outcome {
			calls++
			if calls <= k {
				return Retry(errors.New("timeout"))
			}
			return Success()
		})

		require.Equal(t, StateSucceeded, res.State, "k=%d", k)
		assert.Equal(t, k+1, calls, "k=%d", k)
		assert.Equal(t, k+1, res.Attempts)

		want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}[:k]
		assert.Equal(t, want, slept, "k=%d", k)
	}
}

func TestRetryScheduleIsCapped(t *testing.T) {
	var slept []time.Duration
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 7
	policy.Sleep = recordingSleep(&slept)

	res := policy.Run(context.Background(), func(ctx context.Context, attempt int) Outcome {
		return Retry(errors.New("503"))
	})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 8, res.Attempts)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 16 * time.Second, 16 * time.Second,
	}, slept)
}

func TestRetryStopsOnFatal(t *testing.T) {
	var slept []time.Duration
	policy := DefaultRetryPolicy()
	policy.Sleep = recordingSleep(&slept)

	fatal := errors.New("unauthorized")
	calls := 0
	res := policy.Run(context.Background(), func(ctx context.Context, attempt int) Outcome {
		calls++
		return Fail(fatal)
	})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
	assert.ErrorIs(t, res.Err, fatal)
}

func TestRetryExhaustsMaxRetries(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 2
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	res := policy.Run(context.Background(), func(ctx context.Context, attempt int) Outcome {
		calls++
		return Retry(errors.New("timeout"))
	})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, calls)
	assert.Len(t, res.Delays, 2)
}

func TestRetryAbortsWhenContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cause := errors.New("connection refused")

	policy := DefaultRetryPolicy()
	policy.OnRetry = func(int, time.Duration, error) { cancel() }

	start := time.Now()
	calls := 0
	res := policy.Run(ctx, func(ctx context.Context, attempt int) Outcome {
		calls++
		return Retry(cause)
	})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, cause)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "backoff sleep must not outlive the context")
}

func TestRetryStateString(t *testing.T) {
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
}
