package resilience

import (
	"context"
	"time"
)

// Guard combines an optional rate-limit bucket with a retry policy.
// Every attempt, including retries, acquires its own token.
type Guard struct {
	Bucket         *Bucket
	Policy         Policy
	AcquireTimeout time.Duration
}

// Call executes op under the guard.
func Call[T any](ctx context.Context, g Guard, op func(context.Context) (T, error)) (Result[T], error) {
	return Execute(ctx, g.Policy, func(ctx context.Context) (T, error) {
		if g.Bucket != nil {
			if err := g.Bucket.Acquire(ctx, g.AcquireTimeout); err != nil {
				var zero T
				return zero, err
			}
		}
		return op(ctx)
	})
}
