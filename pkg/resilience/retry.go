package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryState is a step of the retry state machine
type RetryState int

const (
	// StateAttempting runs the operation once
	StateAttempting RetryState = iota
	// StateBackoff waits before the next attempt
	StateBackoff
	// StateSucceeded is terminal: the last attempt succeeded
	StateSucceeded
	// StateFailed is terminal: a fatal error, exhausted retries or cancellation
	StateFailed
)

func (s RetryState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("RetryState(%d)", int(s))
}

// Outcome is what a single attempt reports back to the state machine
type Outcome struct {
	Err       error
	Retryable bool
}

// Success is the outcome of an attempt that worked
func Success() Outcome { return Outcome{} }

// Retry marks err as transient
func Retry(err error) Outcome { return Outcome{Err: err, Retryable: true} }

// Fail marks err as fatal
func Fail(err error) Outcome { return Outcome{Err: err} }

// RetryPolicy configures how many times and how far apart attempts are made
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Sleep waits between attempts; it must return early when ctx is done
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy waits 1, 2, 4, 8, 16 seconds between attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     16 * time.Second,
		Multiplier:      2,
	}
}

// RetryResult summarizes a finished run
type RetryResult struct {
	State    RetryState
	Attempts int
	Delays   []time.Duration
	Err      error
}

// Schedule returns a fresh, jitter-free exponential schedule for the policy
func (p RetryPolicy) Schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives op through Attempting, Backoff, Succeeded and Failed until a terminal state
func (p RetryPolicy) Run(ctx context.Context, op func(ctx context.Context, attempt int) Outcome) RetryResult {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	schedule := p.Schedule()

	var (
		res  RetryResult
		last Outcome
	)
	state := StateAttempting

	for {
		switch state {
		case StateAttempting:
			res.Attempts++
			last = op(ctx, res.Attempts)
			switch {
			case last.Err == nil:
				state = StateSucceeded
			case !last.Retryable || res.Attempts > p.MaxRetries:
				state = StateFailed
			default:
				state = StateBackoff
			}

		case StateBackoff:
			delay := schedule.NextBackOff()
			if delay == backoff.Stop {
				state = StateFailed
				continue
			}
			if p.OnRetry != nil {
				p.OnRetry(res.Attempts, delay, last.Err)
			}
			res.Delays = append(res.Delays, delay)
			if err := sleep(ctx, delay); err != nil {
				last.Err = fmt.Errorf("%w (retry aborted: %v)", last.Err, err)
				state = StateFailed
				continue
			}
			state = StateAttempting

		case StateSucceeded:
			res.State = StateSucceeded
			return res

		case StateFailed:
			res.State = StateFailed
			res.Err = last.Err
			return res
		}
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
