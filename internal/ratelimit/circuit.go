package ratelimit

import "time"

// State is a circuit breaker state.
type State string

// Circuit breaker states
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Gauge maps the state to a numeric value for metrics.
func (s State) Gauge() float64 {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// circuit is the breaker for one endpoint.
// It is guarded by the owning endpointState's mutex.
type circuit struct {
	state        State
	failures     int
	lastFailure  time.Time
	testRequests int
}
