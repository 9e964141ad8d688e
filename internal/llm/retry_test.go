package llm

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
)

func TestRetrierRetriesRetryableKinds(t *testing.T) {
	r := retrier{maxRetries: 3, delay: time.Millisecond}
	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fault.New(fault.KindNetwork, "connection reset")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("do() = %v after %d calls", err, calls)
	}
}

func TestRetrierStopsOnPermanentKind(t *testing.T) {
	r := retrier{maxRetries: 3, delay: time.Millisecond}
	calls := 0
	err := r.do(context.Background(), func() error {
		calls++
		return fault.New(fault.KindConfiguration, "bad key")
	})
	if !fault.IsKind(err, fault.KindConfiguration) || calls != 1 {
		t.Fatalf("do() = %v after %d calls", err, calls)
	}
}

func TestRetrierCancelledContextIsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retrier{maxRetries: 3, delay: time.Millisecond}.do(ctx, func() error { return nil })
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("do() error = %v, want timeout fault", err)
	}
}
