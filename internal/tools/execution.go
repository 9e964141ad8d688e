package tools

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

const (
	// DefaultMaxErrors stops a plan after this many failed tools.
	DefaultMaxErrors = 3
	// DefaultPlanTimeout stops a plan that has run this long.
	DefaultPlanTimeout = 30 * time.Second
	// DefaultMaxContexts caps the contexts tracked by a ContextManager.
	DefaultMaxContexts = 50
	// DefaultContextMaxAge is the age past which contexts are evicted at the cap.
	DefaultContextMaxAge = time.Hour
)

// ExecutionContext accumulates the state of one tool plan.
type ExecutionContext struct {
	ID        string
	Intent    models.UserIntent
	Thread    *models.ThreadContext
	UserID    string
	StartedAt time.Time

	maxErrors   int
	planTimeout time.Duration
	nowFunc     func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	executed []string
	results  map[string]models.ToolResult
	params   models.Params
	errors   []string
}

// ChannelID returns the thread's channel, or "" without a thread.
func (c *ExecutionContext) ChannelID() string {
	if c.Thread == nil {
		return ""
	}
	return c.Thread.ChannelID
}

// ThreadTS returns the thread timestamp, or "" without a thread.
func (c *ExecutionContext) ThreadTS() string {
	if c.Thread == nil {
		return ""
	}
	return c.Thread.ThreadTS
}

// AddResult records r, replacing any earlier result for the same tool.
func (c *ExecutionContext) AddResult(r models.ToolResult) {
	r = r.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.results[r.ToolName]; ok {
		c.logger.Warn("overwriting tool result", "tool", r.ToolName, "execution_id", c.ID)
	}
	c.results[r.ToolName] = r
	c.executed = append(c.executed, r.ToolName)

	if !r.Success {
		msg := fmt.Sprintf("Tool %s failed: %s", r.ToolName, r.Error)
		c.errors = append(c.errors, msg)
		c.logger.Error("tool failed", "tool", r.ToolName, "error", r.Error, "execution_id", c.ID)
	}
}

// Result returns the latest result of the named tool.
func (c *ExecutionContext) Result(name string) (models.ToolResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[name]
	return r, ok
}

// ToolsExecuted lists tool names in execution order.
func (c *ExecutionContext) ToolsExecuted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// Errors lists the recorded failure messages.
func (c *ExecutionContext) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// AddError records a failure that is not tied to a tool result.
func (c *ExecutionContext) AddError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
}

// HasSuccessfulResults reports whether any tool succeeded.
func (c *ExecutionContext) HasSuccessfulResults() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.results {
		if r.Success {
			return true
		}
	}
	return false
}

// SuccessfulResults returns successful results in execution order.
func (c *ExecutionContext) SuccessfulResults() []models.ToolResult {
	return c.filter(true)
}

// FailedResults returns failed results in execution order.
func (c *ExecutionContext) FailedResults() []models.ToolResult {
	return c.filter(false)
}

func (c *ExecutionContext) filter(success bool) []models.ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ToolResult
	seen := make(map[string]bool, len(c.results))
	for _, name := range c.executed {
		if seen[name] {
			continue
		}
		seen[name] = true
		if r := c.results[name]; r.Success == success {
			out = append(out, r)
		}
	}
	return out
}

// UpdateParameter sets a runtime parameter.
func (c *ExecutionContext) UpdateParameter(key string, value models.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[key] = value
}

// Parameters returns a copy of the runtime parameters.
func (c *ExecutionContext) Parameters() models.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.Clone()
}

// Elapsed is the time since the context was created.
func (c *ExecutionContext) Elapsed() time.Duration {
	return c.nowFunc().Sub(c.StartedAt)
}

// ShouldContinue reports whether the plan is still within its error and time
// budgets.
func (c *ExecutionContext) ShouldContinue() bool {
	c.mu.Lock()
	errCount := len(c.errors)
	c.mu.Unlock()

	if errCount >= c.maxErrors {
		c.logger.Warn("stopping execution after too many errors", "errors", errCount, "execution_id", c.ID)
		return false
	}
	if elapsed := c.Elapsed(); elapsed > c.planTimeout {
		c.logger.Warn("stopping execution after plan timeout", "elapsed", elapsed, "execution_id", c.ID)
		return false
	}
	return true
}

// Summary is a point-in-time description of an execution.
type Summary struct {
	ExecutionID      string            `json:"execution_id"`
	Intent           models.IntentType `json:"intent"`
	IntentConfidence float64           `json:"intent_confidence"`
	ToolsExecuted    []string          `json:"tools_executed"`
	ToolsSucceeded   int               `json:"tools_succeeded"`
	ToolsFailed      int               `json:"tools_failed"`
	Duration         time.Duration     `json:"execution_duration"`
	ErrorCount       int               `json:"error_count"`
}

// Summary describes the execution so far.
func (c *ExecutionContext) Summary() Summary {
	return Summary{
		ExecutionID:      c.ID,
		Intent:           c.Intent.Primary,
		IntentConfidence: c.Intent.Confidence,
		ToolsExecuted:    c.ToolsExecuted(),
		ToolsSucceeded:   len(c.SuccessfulResults()),
		ToolsFailed:      len(c.FailedResults()),
		Duration:         c.Elapsed(),
		ErrorCount:       len(c.Errors()),
	}
}

// ManagerConfig configures a ContextManager.
type ManagerConfig struct {
	MaxContexts int
	MaxAge      time.Duration
	MaxErrors   int
	PlanTimeout time.Duration
}

// ContextManager tracks live execution contexts.
type ContextManager struct {
	mu       sync.Mutex
	contexts map[string]*ExecutionContext
	config   ManagerConfig
	logger   *slog.Logger
	nowFunc  func() time.Time // For testing
}

// ManagerOption configures a ContextManager.
type ManagerOption func(*ContextManager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *ContextManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerClock overrides the clock.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *ContextManager) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

// NewContextManager creates an empty manager.
func NewContextManager(config ManagerConfig, opts ...ManagerOption) *ContextManager {
	if config.MaxContexts <= 0 {
		config.MaxContexts = DefaultMaxContexts
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultContextMaxAge
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = DefaultMaxErrors
	}
	if config.PlanTimeout <= 0 {
		config.PlanTimeout = DefaultPlanTimeout
	}
	m := &ContextManager{
		contexts: make(map[string]*ExecutionContext),
		config:   config,
		logger:   slog.Default().With("component", "execution"),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts tracking a new execution for intent on thread. Runtime
// parameters start as a copy of the intent's parameters.
func (m *ContextManager) Create(intent models.UserIntent, thread *models.ThreadContext, userID string) *ExecutionContext {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.contexts) >= m.config.MaxContexts {
		if n := m.evictLocked(now.Add(-m.config.MaxAge)); n > 0 {
			m.logger.Info("evicted old execution contexts", "count", n)
		}
	}

	var channel, threadTS string
	if thread != nil {
		channel, threadTS = thread.ChannelID, thread.ThreadTS
	}
	base := fmt.Sprintf("%s_%s_%d", channel, threadTS, now.UnixNano())
	id := base
	for i := 1; m.contexts[id] != nil; i++ {
		id = fmt.Sprintf("%s_%d", base, i)
	}

	params := models.Params{}
	if intent.Parameters != nil {
		params = intent.Parameters.Clone()
	}
	ec := &ExecutionContext{
		ID:          id,
		Intent:      intent,
		Thread:      thread,
		UserID:      userID,
		StartedAt:   now,
		maxErrors:   m.config.MaxErrors,
		planTimeout: m.config.PlanTimeout,
		nowFunc:     m.nowFunc,
		logger:      m.logger,
		results:     make(map[string]models.ToolResult),
		params:      params,
	}
	m.contexts[id] = ec
	m.logger.Info("created execution context", "execution_id", id, "intent", intent.Primary)
	return ec
}

// Get returns a tracked context.
func (m *ContextManager) Get(id string) (*ExecutionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec, ok := m.contexts[id]
	return ec, ok
}

// Remove stops tracking id and reports whether it was tracked.
func (m *ContextManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[id]; !ok {
		return false
	}
	delete(m.contexts, id)
	return true
}

// Len returns the number of tracked contexts.
func (m *ContextManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// EvictOlderThan drops contexts started more than d ago.
func (m *ContextManager) EvictOlderThan(d time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(m.nowFunc().Add(-d))
}

func (m *ContextManager) evictLocked(cutoff time.Time) int {
	n := 0
	for id, ec := range m.contexts {
		if ec.StartedAt.Before(cutoff) {
			delete(m.contexts, id)
			n++
		}
	}
	return n
}
