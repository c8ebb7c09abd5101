// Package resilience provides retry with exponential backoff, token-bucket
// rate limiting, and the error kinds both decisions are made on.
//
// Example usage:
//
//	limiters := resilience.NewLimiters(map[string]resilience.Limit{
//		"synthesis-api": {Capacity: 5, RefillPerSecond: 2},
//	})
//	guard := resilience.Guard{
//		Bucket:         limiters.Get("synthesis-api"),
//		Policy:         resilience.DefaultPolicy(),
//		AcquireTimeout: 5 * time.Second,
//	}
//	res, err := resilience.Call(ctx, guard, func(ctx context.Context) ([]byte, error) {
//		return synth(ctx, text)
//	})
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures retry behaviour.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a value in [0, 1). Defaults to math/rand/v2.
	Jitter func() float64
}

// DefaultPolicy returns 3 attempts, 100ms base, 10s cap and 25% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.25,
	}
}

// NoRetry returns a policy that makes exactly one attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Result is a successful value plus the attempts it took.
type Result[T any] struct {
	Value    T
	Attempts int
	Delays   []time.Duration
}

// Backoff returns the un-jittered delay before the retry that follows attempt n (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			// Uncapped policies saturate instead of overflowing.
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if d <= 0 || p.JitterFraction <= 0 {
		return d
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	extra := jitter() * p.JitterFraction * float64(d)
	if extra >= float64(math.MaxInt64-d) {
		return math.MaxInt64
	}
	return d + time.Duration(extra)
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. Errors are wrapped in *AttemptsError.
func Execute[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (Result[T], error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var res Result[T]
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return res, &AttemptsError{Attempts: attempt - 1, Err: WithKind(err, KindCancelled)}
		}

		v, err := op(ctx)
		if err == nil {
			res.Value = v
			return res, nil
		}
		if attempt >= maxAttempts || !retryable(err) {
			return res, &AttemptsError{Attempts: attempt, Err: err}
		}

		d := p.delay(attempt)
		res.Delays = append(res.Delays, d)
		if serr := sleep(ctx, d); serr != nil {
			return res, &AttemptsError{Attempts: attempt, Err: WithKind(serr, KindCancelled)}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
