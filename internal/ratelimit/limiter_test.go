package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu          sync.Mutex
	rateLimited []string
	states      []State
}

func (o *recordingObserver) RateLimited(endpoint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rateLimited = append(o.rateLimited, endpoint)
}

func (o *recordingObserver) CircuitChanged(_ string, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func TestDefaultConfig_Tiers(t *testing.T) {
	tests := []struct {
		tier  Tier
		rpm   int
		burst int
	}{
		{Tier1, 1, 2},
		{Tier2, 20, 40},
		{Tier3, 50, 100},
		{Tier4, 100, 200},
		{Tier("bogus"), 20, 40},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			cfg := DefaultConfig(tt.tier)
			if cfg.RequestsPerMinute != tt.rpm || cfg.BurstLimit != tt.burst {
				t.Errorf("DefaultConfig(%s) = %d/%d, want %d/%d",
					tt.tier, cfg.RequestsPerMinute, cfg.BurstLimit, tt.rpm, tt.burst)
			}
			if cfg.FailureThreshold != 5 || cfg.Timeout != 60*time.Second || cfg.TestRequests != 3 {
				t.Errorf("circuit defaults = %+v", cfg)
			}
		})
	}
}

func TestLimiter_CircuitCycle(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Tier3, Config{}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		l.RecordFailure("api")
	}

	err := l.Acquire("api")
	if err == nil {
		t.Fatal("Acquire() should reject while the circuit is open")
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.KindRateLimit {
		t.Fatalf("error = %v, want rate_limit fault", err)
	}
	if fe.RetryAfter != 60*time.Second {
		t.Errorf("RetryAfter = %v, want 60s", fe.RetryAfter)
	}

	clock.Advance(30 * time.Second)
	if err := l.Acquire("api"); err == nil {
		t.Fatal("Acquire() should still reject before the timeout")
	} else if errors.As(err, &fe); fe.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", fe.RetryAfter)
	}

	clock.Advance(31 * time.Second)
	if err := l.Acquire("api"); err != nil {
		t.Fatalf("Acquire() after timeout error = %v", err)
	}
	if got := l.Status("api").CircuitState; got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	l.RecordSuccess("api")
	status := l.Status("api")
	if status.CircuitState != StateClosed || status.FailureCount != 0 {
		t.Errorf("status after success = %+v", status)
	}
}

func TestLimiter_HalfOpenTrialBudget(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Tier4, Config{}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		l.RecordFailure("api")
	}
	clock.Advance(61 * time.Second)

	// The transitioning call plus three trial requests are admitted.
	for i := 0; i < 4; i++ {
		if err := l.Acquire("api"); err != nil {
			t.Fatalf("trial %d error = %v", i, err)
		}
	}
	if err := l.Acquire("api"); err == nil {
		t.Fatal("Acquire() should reject once the trial budget is spent")
	}
	if got := l.Status("api").CircuitState; got != StateOpen {
		t.Errorf("state = %s, want open", got)
	}
}

func TestLimiter_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Tier4, Config{}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		l.RecordFailure("api")
	}
	clock.Advance(61 * time.Second)
	if err := l.Acquire("api"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	l.RecordFailure("api")
	if got := l.Status("api").CircuitState; got != StateOpen {
		t.Errorf("state = %s, want open", got)
	}
}

func TestLimiter_SuccessResetsConsecutiveFailures(t *testing.T) {
	l := NewLimiter(Tier4, Config{})
	for i := 0; i < 4; i++ {
		l.RecordFailure("api")
	}
	l.RecordSuccess("api")
	for i := 0; i < 4; i++ {
		l.RecordFailure("api")
	}
	if got := l.Status("api").CircuitState; got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestLimiter_WindowAndBurst(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	l := NewLimiter(Tier2, Config{RequestsPerMinute: 3, BurstLimit: 2}, WithClock(clock.Now), WithObserver(obs))

	for i := 0; i < 3; i++ {
		if err := l.Acquire("x"); err != nil {
			t.Fatalf("request %d error = %v", i, err)
		}
	}

	err := l.Acquire("x")
	if err == nil {
		t.Fatal("fourth request within burst window should be rejected")
	}
	var fe *fault.Error
	errors.As(err, &fe)
	if fe.RetryAfter != 60*time.Second {
		t.Errorf("RetryAfter = %v, want 60s", fe.RetryAfter)
	}
	if !strings.Contains(fe.UserGuidance, "wait") {
		t.Errorf("UserGuidance = %q", fe.UserGuidance)
	}
	if got := l.Status("x").FailureCount; got != 1 {
		t.Errorf("FailureCount = %d, want 1 (rejections count as failures)", got)
	}
	if len(obs.rateLimited) != 1 {
		t.Errorf("observer saw %d rejections, want 1", len(obs.rateLimited))
	}

	clock.Advance(61 * time.Second)
	if err := l.Acquire("x"); err != nil {
		t.Errorf("Acquire() after window error = %v", err)
	}
}

func TestLimiter_FullWindowWithoutBurstAdmits(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Tier2, Config{RequestsPerMinute: 3, BurstLimit: 2}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if err := l.Acquire("x"); err != nil {
			t.Fatalf("request %d error = %v", i, err)
		}
		clock.Advance(20 * time.Second)
	}
	// The window holds 3 requests but none fall in the trailing 10 seconds.
	if err := l.Acquire("x"); err != nil {
		t.Errorf("Acquire() error = %v, want admission when burst is not met", err)
	}
}

func TestLimiter_RejectionsOpenCircuit(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	l := NewLimiter(Tier1, Config{RequestsPerMinute: 1, BurstLimit: 1}, WithClock(clock.Now), WithObserver(obs))

	if err := l.Acquire("x"); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := l.Acquire("x"); err == nil {
			t.Fatalf("rejection %d: expected error", i)
		}
	}
	if got := l.Status("x").CircuitState; got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	err := l.Acquire("x")
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("error = %v, want open circuit rejection", err)
	}
	if len(obs.states) == 0 || obs.states[len(obs.states)-1] != StateOpen {
		t.Errorf("observer states = %v", obs.states)
	}
}

func TestLimiter_EndpointsAreIndependent(t *testing.T) {
	l := NewLimiter(Tier2, Config{})
	for i := 0; i < 5; i++ {
		l.RecordFailure("a")
	}
	if err := l.Acquire("b"); err != nil {
		t.Errorf("endpoint b should be unaffected: %v", err)
	}
	if err := l.Acquire(""); err != nil {
		t.Errorf("default endpoint error = %v", err)
	}

	statuses := l.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d entries, want 3", len(statuses))
	}
	if statuses[0].Endpoint != "a" || statuses[2].Endpoint != DefaultEndpoint {
		t.Errorf("Statuses() order = %v", statuses)
	}
}

func TestLimiter_StatusIsReadOnly(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Tier2, Config{}, WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		l.RecordFailure("api")
	}
	clock.Advance(61 * time.Second)

	first := l.Status("api")
	second := l.Status("api")
	if first.CircuitState != StateOpen || second.CircuitState != StateOpen {
		t.Errorf("Status() must not transition the breaker: %s, %s", first.CircuitState, second.CircuitState)
	}
	if first.WaitTime != 0 {
		t.Errorf("WaitTime = %v, want 0 after timeout", first.WaitTime)
	}
	if first.Tier != Tier2 || first.RequestsPerMinuteLimit != 20 {
		t.Errorf("status = %+v", first)
	}
}

func TestLimiter_Guard(t *testing.T) {
	l := NewLimiter(Tier2, Config{})
	ctx := context.Background()

	err := l.Guard(ctx, "api", func(context.Context) error {
		return context.DeadlineExceeded
	})
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Errorf("Guard() error = %v, want timeout fault", err)
	}
	if got := l.Status("api").FailureCount; got != 1 {
		t.Errorf("FailureCount = %d, want 1", got)
	}

	called := false
	if err := l.Guard(ctx, "api", func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Guard() error = %v", err)
	}
	if !called {
		t.Error("Guard() did not call fn")
	}
	if got := l.Status("api").FailureCount; got != 0 {
		t.Errorf("FailureCount = %d, want 0 after success", got)
	}
}

func TestLimiter_DisableCircuit(t *testing.T) {
	l := NewLimiter(Tier2, Config{DisableCircuit: true})
	for i := 0; i < 10; i++ {
		l.RecordFailure("api")
	}
	if err := l.Acquire("api"); err != nil {
		t.Errorf("Acquire() error = %v, want nil with circuit disabled", err)
	}
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	l := NewLimiter(Tier4, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire("api")
			l.RecordSuccess("api")
		}()
	}
	wg.Wait()
	if got := l.Status("api").RecentRequests; got != 50 {
		t.Errorf("RecentRequests = %d, want 50", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[string]Config{
		EndpointUsersInfo: {RequestsPerMinute: 7},
	})

	tests := []struct {
		endpoint string
		want     Tier
	}{
		{EndpointConversationsReplies, Tier3},
		{EndpointConversationsHistory, Tier3},
		{EndpointChatPostMessage, Tier4},
		{EndpointUsersInfo, Tier4},
		{EndpointConversationsInfo, Tier3},
		{EndpointLLM, Tier4},
		{"reactions.add", Tier2},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := r.TierOf(tt.endpoint); got != tt.want {
				t.Errorf("TierOf() = %s, want %s", got, tt.want)
			}
			if got := r.For(tt.endpoint).Tier(); got != tt.want {
				t.Errorf("For().Tier() = %s, want %s", got, tt.want)
			}
		})
	}

	if r.For(EndpointLLM) != r.For(EndpointLLM) {
		t.Error("For() should return a stable limiter")
	}
	if got := r.For(EndpointUsersInfo).Config(); got.RequestsPerMinute != 7 || got.BurstLimit != 200 {
		t.Errorf("override config = %+v", got)
	}

	if err := r.Acquire(EndpointLLM); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	found := false
	for _, s := range r.Statuses() {
		if s.Endpoint == EndpointLLM && s.RecentRequests == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("Statuses() missing llm entry: %+v", r.Statuses())
	}

	r.SetTier("custom", Tier1)
	if r.For("custom").Config().RequestsPerMinute != 1 {
		t.Error("SetTier() should apply the new tier")
	}
}
