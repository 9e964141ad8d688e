package llm

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/threadwise/internal/backoff"
	"github.com/haasonsaas/threadwise/internal/fault"
)

// retrier re-runs retryable calls with a linear backoff: the wait before
// attempt n+1 is delay*n.
type retrier struct {
	maxRetries int
	delay      time.Duration
}

func (r retrier) do(ctx context.Context, op func() error) error {
	err := backoff.Retrier{
		Policy:    backoff.Linear(r.delay),
		Attempts:  r.maxRetries,
		Retryable: fault.IsRetryable,
	}.Do(ctx, func(context.Context) error { return op() })
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil && !fault.IsKind(err, fault.KindTimeout) {
			return fault.Wrap(fault.KindTimeout, "llm.retry", err)
		}
	}
	return err
}
