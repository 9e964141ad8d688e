package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
)

// CallWithBudget runs fn with a deadline of timeout. Timeouts, panics and
// errors come back as a failed Result; onError, when set, sees every failure.
// fn runs on its own goroutine and is abandoned, not killed, on timeout.
func CallWithBudget[T any](ctx context.Context, fn func(context.Context) (T, error), timeout time.Duration, onError func(*fault.Error)) fault.Result[T] {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		value T
		err   *fault.Error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &fault.Error{
					Kind:    fault.KindInternal,
					Message: fmt.Sprintf("panic: %v", r),
					Cause:   fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				}}
			}
		}()
		v, err := fn(callCtx)
		if err != nil {
			done <- outcome{err: toolFault(err)}
			return
		}
		done <- outcome{value: v}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			out.err = &fault.Error{Kind: fault.KindInternal, Message: "call cancelled", Cause: ctx.Err()}
		} else {
			out.err = &fault.Error{
				Kind:    fault.KindTimeout,
				Message: fmt.Sprintf("execution timed out after %s", timeout),
				Cause:   context.DeadlineExceeded,
			}
		}
	}

	if out.err != nil {
		if onError != nil {
			onError(out.err)
		}
		return fault.Result[T]{Err: out.err}
	}
	return fault.Ok(out.value)
}

// toolFault keeps classified errors and treats the rest as tool failures.
func toolFault(err error) *fault.Error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &fault.Error{Kind: fault.KindTimeout, Message: err.Error(), Cause: err}
	}
	return &fault.Error{Kind: fault.KindToolError, Message: err.Error(), Cause: err}
}
