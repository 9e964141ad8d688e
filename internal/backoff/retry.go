package backoff

import (
	"context"
	"time"
)

// Retrier runs an operation up to Attempts times, waiting per Policy between
// tries. Only errors accepted by Retryable are retried; a nil Retryable
// retries everything.
type Retrier struct {
	Policy    Policy
	Attempts  int
	Retryable func(error) bool

	sleep func(ctx context.Context, d time.Duration) error // For testing
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempts are spent. It returns the last error from op, or ctx.Err() when the
// context ends first.
func (r Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(r.Attempts, 1)
	sleep := r.sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts || (r.Retryable != nil && !r.Retryable(err)) {
			break
		}
		if err := sleep(ctx, r.Policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
