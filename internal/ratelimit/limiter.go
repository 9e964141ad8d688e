// Package ratelimit provides per-endpoint rate limiting for Slack and LLM calls,
// coupled with a circuit breaker.
//
// Each endpoint keeps a trailing 60 second window of request timestamps. A
// request is rejected when the window is full and the trailing 10 second burst
// count also meets the tier's burst limit. Rejections count as breaker
// failures, so sustained pressure opens the circuit.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
)

const (
	// DefaultEndpoint is used when no endpoint name is given.
	DefaultEndpoint = "default"

	window      = 60 * time.Second
	burstWindow = 10 * time.Second
	minWait     = time.Second
)

// Tier names follow Slack's Web API tiers.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
	Tier4 Tier = "tier4"
)

// Config configures one limiter.
type Config struct {
	// RequestsPerMinute is the size of the trailing one minute window.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	// BurstLimit is checked against the trailing ten seconds once the window is full.
	BurstLimit int `yaml:"burst_limit" json:"burst_limit"`
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Timeout is how long the circuit stays open after the last failure.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// TestRequests is the number of trial requests admitted while half-open.
	TestRequests int `yaml:"test_requests" json:"test_requests"`
	// DisableCircuit turns the breaker off; only the window applies.
	DisableCircuit bool `yaml:"disable_circuit" json:"disable_circuit"`
}

// DefaultConfig returns the configuration for a Slack tier. Unknown tiers use tier2.
func DefaultConfig(tier Tier) Config {
	cfg := Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		TestRequests:     3,
	}
	switch tier {
	case Tier1:
		cfg.RequestsPerMinute, cfg.BurstLimit = 1, 2
	case Tier3:
		cfg.RequestsPerMinute, cfg.BurstLimit = 50, 100
	case Tier4:
		cfg.RequestsPerMinute, cfg.BurstLimit = 100, 200
	default:
		cfg.RequestsPerMinute, cfg.BurstLimit = 20, 40
	}
	return cfg
}

func (c Config) withDefaults(tier Tier) Config {
	def := DefaultConfig(tier)
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = def.RequestsPerMinute
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = def.BurstLimit
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.TestRequests <= 0 {
		c.TestRequests = def.TestRequests
	}
	return c
}

// Observer receives limiter events. Metrics implement it.
type Observer interface {
	RateLimited(endpoint string)
	CircuitChanged(endpoint string, state State)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}

// endpointState is the window and breaker for one endpoint.
type endpointState struct {
	mu       sync.Mutex
	requests []time.Time
	circuit  circuit
}

// Limiter rate limits calls per endpoint for one tier.
type Limiter struct {
	tier     Tier
	config   Config
	logger   *slog.Logger
	observer Observer
	nowFunc  func() time.Time // For testing

	mu        sync.RWMutex
	endpoints map[string]*endpointState
}

// NewLimiter creates a limiter for tier. Zero config fields take tier defaults.
func NewLimiter(tier Tier, config Config, opts ...Option) *Limiter {
	l := &Limiter{
		tier:      tier,
		config:    config.withDefaults(tier),
		logger:    slog.Default().With("component", "ratelimit", "tier", string(tier)),
		nowFunc:   time.Now,
		endpoints: make(map[string]*endpointState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tier returns the limiter's tier.
func (l *Limiter) Tier() Tier { return l.tier }

// Config returns the effective configuration.
func (l *Limiter) Config() Config { return l.config }

// getEndpoint returns or creates the state for endpoint.
func (l *Limiter) getEndpoint(endpoint string) *endpointState {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	l.mu.RLock()
	state, exists := l.endpoints[endpoint]
	l.mu.RUnlock()
	if exists {
		return state
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if state, exists = l.endpoints[endpoint]; exists {
		return state
	}
	state = &endpointState{circuit: circuit{state: StateClosed}}
	l.endpoints[endpoint] = state
	return state
}

// Acquire admits one request on endpoint or returns a rate_limit fault carrying
// the suggested wait in RetryAfter.
func (l *Limiter) Acquire(endpoint string) error {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	state := l.getEndpoint(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := l.nowFunc()

	if !l.config.DisableCircuit {
		switch state.circuit.state {
		case StateOpen:
			elapsed := now.Sub(state.circuit.lastFailure)
			if elapsed > l.config.Timeout {
				l.transition(endpoint, &state.circuit, StateHalfOpen)
				state.circuit.testRequests = 0
			} else {
				wait := l.config.Timeout - elapsed
				return fault.New(fault.KindRateLimit, "circuit breaker is open for %s", endpoint).
					WithOp(endpoint).
					WithRetryAfter(wait).
					WithGuidance(fmt.Sprintf("API is temporarily unavailable. Try again in %.0f seconds.", wait.Seconds()))
			}
		case StateHalfOpen:
			if state.circuit.testRequests >= l.config.TestRequests {
				l.transition(endpoint, &state.circuit, StateOpen)
				return fault.New(fault.KindRateLimit, "circuit breaker test failed for %s", endpoint).
					WithOp(endpoint).
					WithRetryAfter(l.config.Timeout)
			}
			state.circuit.testRequests++
		}
	}

	state.prune(now)
	if len(state.requests) >= l.config.RequestsPerMinute {
		if state.burstCount(now) >= l.config.BurstLimit {
			wait := state.waitTime(now, l.config.RequestsPerMinute)
			if !l.config.DisableCircuit {
				l.recordFailureLocked(endpoint, state)
			}
			if l.observer != nil {
				l.observer.RateLimited(endpoint)
			}
			l.logger.Warn("rate limit exceeded",
				"endpoint", endpoint,
				"recent_requests", len(state.requests),
				"failure_count", state.circuit.failures)
			return fault.New(fault.KindRateLimit, "rate limit exceeded for %s: %d requests in last minute",
				endpoint, len(state.requests)).
				WithOp(endpoint).
				WithRetryAfter(wait).
				WithGuidance(fmt.Sprintf("Too many requests. Please wait %.0f seconds before trying again.", wait.Seconds()))
		}
	}

	state.requests = append(state.requests, now)
	return nil
}

// RecordSuccess closes the circuit for endpoint and resets its counters.
func (l *Limiter) RecordSuccess(endpoint string) {
	if l.config.DisableCircuit {
		return
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	state := l.getEndpoint(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.circuit.state != StateClosed {
		l.transition(endpoint, &state.circuit, StateClosed)
		l.logger.Info("circuit breaker closed after successful request", "endpoint", endpoint)
	}
	state.circuit.failures = 0
	state.circuit.testRequests = 0
}

// RecordFailure counts a failed call against endpoint's breaker.
func (l *Limiter) RecordFailure(endpoint string) {
	if l.config.DisableCircuit {
		return
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	state := l.getEndpoint(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()
	l.recordFailureLocked(endpoint, state)
}

// recordFailureLocked must be called with state.mu held.
func (l *Limiter) recordFailureLocked(endpoint string, state *endpointState) {
	c := &state.circuit
	c.failures++
	c.lastFailure = l.nowFunc()

	if c.state == StateHalfOpen {
		l.transition(endpoint, c, StateOpen)
		l.logger.Warn("circuit breaker reopened by failed trial request", "endpoint", endpoint)
		return
	}
	if c.failures >= l.config.FailureThreshold && c.state != StateOpen {
		l.transition(endpoint, c, StateOpen)
		l.logger.Warn("circuit breaker opened", "endpoint", endpoint, "failures", c.failures)
	}
}

func (l *Limiter) transition(endpoint string, c *circuit, to State) {
	if c.state == to {
		return
	}
	c.state = to
	if l.observer != nil {
		l.observer.CircuitChanged(endpoint, to)
	}
}

// WaitTime returns the recommended wait before the next request on endpoint.
func (l *Limiter) WaitTime(endpoint string) time.Duration {
	state := l.getEndpoint(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()
	return l.waitTimeLocked(state, l.nowFunc())
}

func (l *Limiter) waitTimeLocked(state *endpointState, now time.Time) time.Duration {
	if !l.config.DisableCircuit && state.circuit.state == StateOpen {
		wait := l.config.Timeout - now.Sub(state.circuit.lastFailure)
		if wait < 0 {
			return 0
		}
		return wait
	}
	return state.waitTime(now, l.config.RequestsPerMinute)
}

// Guard acquires endpoint, runs fn and records the outcome. Errors from fn are
// classified with fault.From unless they already carry a kind.
func (l *Limiter) Guard(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	if err := l.Acquire(endpoint); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		l.RecordFailure(endpoint)
		return fault.From(err)
	}
	l.RecordSuccess(endpoint)
	return nil
}

// Status is a read-only diagnostic snapshot of one endpoint.
type Status struct {
	Endpoint               string        `json:"endpoint"`
	Tier                   Tier          `json:"tier"`
	RequestsPerMinuteLimit int           `json:"requests_per_minute_limit"`
	RecentRequests         int           `json:"recent_requests"`
	CircuitState           State         `json:"circuit_state"`
	FailureCount           int           `json:"failure_count"`
	WaitTime               time.Duration `json:"wait_time"`
	CanMakeRequest         bool          `json:"can_make_request"`
}

// Status returns the snapshot for endpoint without mutating breaker state.
func (l *Limiter) Status(endpoint string) Status {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	state := l.getEndpoint(endpoint)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := l.nowFunc()
	recent := state.countSince(now.Add(-window))
	return Status{
		Endpoint:               endpoint,
		Tier:                   l.tier,
		RequestsPerMinuteLimit: l.config.RequestsPerMinute,
		RecentRequests:         recent,
		CircuitState:           state.circuit.state,
		FailureCount:           state.circuit.failures,
		WaitTime:               l.waitTimeLocked(state, now),
		CanMakeRequest:         recent < l.config.RequestsPerMinute,
	}
}

// Statuses returns snapshots for every known endpoint, sorted by name.
func (l *Limiter) Statuses() []Status {
	l.mu.RLock()
	names := make([]string, 0, len(l.endpoints))
	for name := range l.endpoints {
		names = append(names, name)
	}
	l.mu.RUnlock()
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		out = append(out, l.Status(name))
	}
	return out
}

// Reset forgets all state for endpoint.
func (l *Limiter) Reset(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.endpoints, endpoint)
}

// prune drops timestamps outside the one minute window. Caller holds mu.
func (s *endpointState) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(s.requests) && s.requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.requests = append(s.requests[:0], s.requests[i:]...)
	}
}

func (s *endpointState) countSince(cutoff time.Time) int {
	n := 0
	for _, t := range s.requests {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (s *endpointState) burstCount(now time.Time) int {
	return s.countSince(now.Add(-burstWindow))
}

// waitTime is zero until the window is full, then the time until the oldest
// request leaves it, never less than a second.
func (s *endpointState) waitTime(now time.Time, limit int) time.Duration {
	cutoff := now.Add(-window)
	var oldest time.Time
	valid := 0
	for _, t := range s.requests {
		if !t.After(cutoff) {
			continue
		}
		if valid == 0 || t.Before(oldest) {
			oldest = t
		}
		valid++
	}
	if valid < limit {
		return 0
	}
	wait := window - now.Sub(oldest)
	if wait < minWait {
		wait = minWait
	}
	return wait
}
