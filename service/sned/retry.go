package sned

import (
	"context"
	"time"
)

// retry calls fn until it succeeds, ctx is done, or maxAttempts calls have
// failed. maxAttempts <= 0 leaves the loop bounded only by ctx. There is no
// wait after the final failed attempt. It returns the number of calls made.
func retry[T any](
	ctx context.Context,
	maxAttempts int,
	wait time.Duration,
	fn func(ctx context.Context, attempt int) (T, error),
) (result T, attempts int, err error) {
	for {
		attempts++
		result, err = fn(ctx, attempts)
		if err == nil {
			return result, attempts, nil
		}
		if maxAttempts > 0 && attempts >= maxAttempts {
			return result, attempts, err
		}

		select {
		case <-ctx.Done():
			return result, attempts, ctx.Err()
		case <-time.After(wait):
		}
	}
}
