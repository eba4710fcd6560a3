package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// NoBackoff retries immediately unless the context is done.
func NoBackoff(ctx context.Context) error {
	return ctx.Err()
}

// StaticBackoff returns a Backoff function that waits for a fixed interval.
//
// # Args
//
// - interval: interval to wait.
//
// # Returns
//
// Backoff function, which waits for `interval` or for context to be done.
func StaticBackoff(interval time.Duration) Backoff {
	return func(ctx context.Context) error {
		return sleep(ctx, interval)
	}
}

// RandomBackoff returns a Backoff function that waits for a random duration in [0, max).
//
// Many clients failing at once spread their retries over the interval this way.
//
// # Args
//
// - max: upper bound (exclusive) of the interval. If it is not positive, it does not wait.
//
// # Returns
//
// Backoff function.
func RandomBackoff(max time.Duration) Backoff {
	return func(ctx context.Context) error {
		if max <= 0 {
			return ctx.Err()
		}
		return sleep(ctx, rand.N(max))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
