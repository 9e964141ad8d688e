// Package health serves threadwise's liveness, readiness, status and
// metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// State is the health of one check or the whole service.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// DefaultCheckTimeout bounds a check that sets no timeout.
const DefaultCheckTimeout = 5 * time.Second

// Result is the outcome of one check.
type Result struct {
	Name      string        `json:"name"`
	State     State         `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

// MarshalJSON reports latency in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(&struct {
		alias
		LatencyMS int64 `json:"latency_ms"`
	}{
		alias:     alias(r),
		LatencyMS: r.Latency.Milliseconds(),
	})
}

// Check is a named readiness check. A failing non-critical check degrades
// the service without making it unready.
type Check struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Checker  func(ctx context.Context) error
}

// Report is the combined result of every registered check.
type Report struct {
	Status    State     `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Result  `json:"checks"`
}

// Ready reports whether no critical check failed.
func (r Report) Ready() bool {
	return r.Status != StateUnhealthy
}

// Registry holds the readiness checks.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]Check
	nowFunc func() time.Time // For testing
}

// NewRegistry creates an empty check registry.
func NewRegistry() *Registry {
	return &Registry{
		checks:  make(map[string]Check),
		nowFunc: time.Now,
	}
}

// Register adds or replaces a check.
func (r *Registry) Register(check Check) {
	if check.Timeout <= 0 {
		check.Timeout = DefaultCheckTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name] = check
}

// Names returns the registered check names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAll runs every check concurrently and combines the results. Results
// are sorted by name.
func (r *Registry) CheckAll(ctx context.Context) Report {
	r.mu.RLock()
	checks := make([]Check, 0, len(r.checks))
	for _, c := range r.checks {
		checks = append(checks, c)
	}
	r.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(idx int, c Check) {
			defer wg.Done()
			results[idx] = r.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	report := Report{Status: StateHealthy, Timestamp: r.nowFunc(), Checks: results}
	for i, res := range results {
		if res.State != StateUnhealthy {
			continue
		}
		if critical(checks, results[i].Name) {
			report.Status = StateUnhealthy
		} else if report.Status == StateHealthy {
			report.Status = StateDegraded
		}
	}
	return report
}

func critical(checks []Check, name string) bool {
	for _, c := range checks {
		if c.Name == name {
			return c.Critical
		}
	}
	return false
}

func (r *Registry) run(ctx context.Context, c Check) Result {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := r.nowFunc()
	done := make(chan error, 1)
	go func() { done <- c.Checker(ctx) }()

	res := Result{Name: c.Name, State: StateHealthy}
	select {
	case err := <-done:
		if err != nil {
			res.State = StateUnhealthy
			res.Message = err.Error()
		}
	case <-ctx.Done():
		res.State = StateUnhealthy
		res.Message = "health check timed out"
	}
	res.Timestamp = r.nowFunc()
	res.Latency = res.Timestamp.Sub(start)
	return res
}
