package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
)

// Metrics holds threadwise's Prometheus collectors. It implements the
// observer interfaces of the mention, tools, llm and ratelimit packages so
// the components report into it without importing prometheus themselves.
type Metrics struct {
	// MentionCounter counts handled mentions.
	// Labels: outcome (replied|fallback|skipped|post_failed)
	MentionCounter *prometheus.CounterVec

	// MentionDuration measures end-to-end mention handling in seconds.
	MentionDuration *prometheus.HistogramVec

	// ErrorCounter counts failures by fault kind.
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is the number of sessions currently registered.
	ActiveSessions prometheus.Gauge

	// ActiveThreads is the number of threads with at least one session.
	ActiveThreads prometheus.Gauge

	// ToolExecutionCounter counts tool runs.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool runs in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestCounter counts completions.
	// Labels: backend (azure|anthropic), model, status
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures completion latency in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: backend, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// CacheLookups counts response cache lookups.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// RateLimitRejections counts calls rejected by an endpoint's limiter.
	RateLimitRejections *prometheus.CounterVec

	// CircuitState is 0 closed, 1 half-open, 2 open per endpoint.
	CircuitState *prometheus.GaugeVec

	// MaintenanceRuns counts background sweeps.
	// Labels: job, status
	MaintenanceRuns *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer; tests pass prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MentionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_mentions_total",
				Help: "Total number of mentions handled by outcome",
			},
			[]string{"outcome"},
		),

		MentionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadwise_mention_duration_seconds",
				Help:    "Time from receiving a mention to posting the reply",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_errors_total",
				Help: "Total number of failed mentions by error kind",
			},
			[]string{"kind"},
		),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "threadwise_active_sessions",
			Help: "Number of active conversation sessions",
		}),

		ActiveThreads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "threadwise_active_threads",
			Help: "Number of threads with an active session",
		}),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadwise_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_llm_requests_total",
				Help: "Total number of LLM requests by backend, model, and status",
			},
			[]string{"backend", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadwise_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_llm_tokens_total",
				Help: "Total number of tokens used by backend, model, and type",
			},
			[]string{"backend", "model", "type"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_llm_cache_lookups_total",
				Help: "LLM response cache lookups by result",
			},
			[]string{"result"},
		),

		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_rate_limited_total",
				Help: "Calls rejected by the rate limiter or an open circuit",
			},
			[]string{"endpoint"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threadwise_circuit_state",
				Help: "Circuit breaker state per endpoint (0 closed, 1 half-open, 2 open)",
			},
			[]string{"endpoint"},
		),

		MaintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwise_maintenance_runs_total",
				Help: "Background maintenance job runs by job and status",
			},
			[]string{"job", "status"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// MentionHandled records one finished mention.
func (m *Metrics) MentionHandled(outcome string, duration time.Duration) {
	m.MentionCounter.WithLabelValues(outcome).Inc()
	m.MentionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ErrorOccurred records a mention that failed with kind.
func (m *Metrics) ErrorOccurred(kind fault.Kind) {
	if kind == "" {
		kind = fault.KindInternal
	}
	m.ErrorCounter.WithLabelValues(string(kind)).Inc()
}

// ToolExecuted records one tool run.
func (m *Metrics) ToolExecuted(tool string, success bool, duration time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(tool, status(success)).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// LLMCompleted records one completion request.
func (m *Metrics) LLMCompleted(backend, model string, success bool, duration time.Duration, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(backend, model, status(success)).Inc()
	m.LLMRequestDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(backend, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(backend, model, "completion").Add(float64(completionTokens))
	}
}

// LLMCacheLookup records a response cache hit or miss.
func (m *Metrics) LLMCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RateLimited records a rejected call.
func (m *Metrics) RateLimited(endpoint string) {
	m.RateLimitRejections.WithLabelValues(endpoint).Inc()
}

// CircuitChanged records a breaker transition.
func (m *Metrics) CircuitChanged(endpoint string, state ratelimit.State) {
	m.CircuitState.WithLabelValues(endpoint).Set(state.Gauge())
}

// SetSessions publishes the session registry's current size.
func (m *Metrics) SetSessions(activeSessions, activeThreads int) {
	m.ActiveSessions.Set(float64(activeSessions))
	m.ActiveThreads.Set(float64(activeThreads))
}

// MaintenanceRan records one background job run.
func (m *Metrics) MaintenanceRan(job string, err error) {
	m.MaintenanceRuns.WithLabelValues(job, status(err == nil)).Inc()
}
