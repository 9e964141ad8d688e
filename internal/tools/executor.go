package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

const (
	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 30 * time.Second
	// DefaultLimit is the message limit passed to tools when none was asked for.
	DefaultLimit = 10
	// MaxHelpTools caps the tool names listed in the help response.
	MaxHelpTools = 5
)

// Canned responses used when no tool was selected.
const (
	GreetingTool      = "greeting_response"
	HelpTool          = "help_response"
	ClarificationTool = "clarification_request"

	greetingText      = "Hello! I'm here to help you analyze conversations and summarize messages. What would you like me to do?"
	helpTextPrefix    = "I can help you with: conversation analysis, message summarization, and participant information. Available tools: "
	clarificationText = "I'm not sure how to help with that request. Could you be more specific? For example, you can ask me to 'summarize the last 10 messages' or 'analyze this conversation'."
)

// Observer receives the outcome of every tool call.
type Observer interface {
	ToolExecuted(tool string, success bool, duration time.Duration)
}

// Executor runs selected tools one after another within an execution's
// error and time budgets.
type Executor struct {
	registry    *Registry
	toolTimeout time.Duration
	logger      *slog.Logger
	observer    Observer
	nowFunc     func() time.Time // For testing
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout overrides the per-tool timeout.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver reports tool outcomes to o.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithExecutorClock overrides the clock used to time calls.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.nowFunc = now
		}
	}
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		toolTimeout: DefaultToolTimeout,
		logger:      slog.Default().With("component", "tool-executor"),
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs names in order, recording every outcome on ec. It stops early
// once ec.ShouldContinue reports false. With no names it records a canned
// greeting, help or clarification result instead.
func (e *Executor) Execute(ctx context.Context, names []string, ec *ExecutionContext) {
	if len(names) == 0 {
		e.respondWithoutTools(ec)
		return
	}

	for _, name := range names {
		if ctx.Err() != nil {
			ec.AddError("execution cancelled: " + ctx.Err().Error())
			return
		}
		if !ec.ShouldContinue() {
			e.logger.Warn("stopping tool execution early", "execution_id", ec.ID, "remaining", name)
			return
		}
		ec.AddResult(e.run(ctx, name, ec))
	}
}

func (e *Executor) run(ctx context.Context, name string, ec *ExecutionContext) models.ToolResult {
	tool, ok := e.registry.Get(name)
	if !ok {
		return models.FailureResult(name, fmt.Sprintf("Tool %s not found in registry", name), 0)
	}

	ctx, span := otel.Tracer("threadwise/tools").Start(ctx, "tool.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool", name), attribute.String("execution_id", ec.ID))

	params := CallParams(ec)
	meta := map[string]string{"parameters": encodeParams(params)}

	start := e.nowFunc()
	if err := e.registry.Validate(name, params); err != nil {
		span.SetStatus(codes.Error, "invalid parameters")
		res := models.FailureResult(name, err.Error(), e.nowFunc().Sub(start))
		res.Metadata = meta
		res.Metadata["error_kind"] = string(fault.KindOf(err))
		e.observe(name, false, res.ExecutionTime)
		return res
	}

	result := CallWithBudget(ctx, func(ctx context.Context) (string, error) {
		return tool.Execute(ctx, params)
	}, e.toolTimeout, func(err *fault.Error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
		e.logger.Warn("tool call failed", "tool", name, "kind", err.Kind, "error", err, "execution_id", ec.ID)
	})
	elapsed := e.nowFunc().Sub(start)

	var res models.ToolResult
	if result.IsOk() {
		res = models.SuccessResult(name, result.Value, elapsed)
	} else {
		res = models.FailureResult(name, result.Err.Error(), elapsed)
		meta["error_kind"] = string(result.Err.Kind)
	}
	res.Metadata = meta
	e.observe(name, res.Success, elapsed)
	return res
}

func (e *Executor) observe(name string, success bool, d time.Duration) {
	if e.observer != nil {
		e.observer.ToolExecuted(name, success, d)
	}
}

// CallParams builds the parameters passed to every tool: the thread
// coordinates, the runtime parameters and a message limit.
func CallParams(ec *ExecutionContext) models.Params {
	params := models.Params{
		"channel_id": models.String(ec.ChannelID()),
		"thread_ts":  models.String(ec.ThreadTS()),
		"user_id":    models.String(ec.UserID),
	}
	params = params.Merge(ec.Parameters())
	if _, ok := params["limit"]; !ok {
		params["limit"] = models.Int(params.IntOr("message_count", DefaultLimit))
	}
	return params
}

func encodeParams(p models.Params) string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

func (e *Executor) respondWithoutTools(ec *ExecutionContext) {
	var res models.ToolResult
	switch ec.Intent.Primary {
	case models.IntentGreeting:
		res = models.SuccessResult(GreetingTool, greetingText, 0)
	case models.IntentHelp:
		names := e.registry.Names()
		if len(names) > MaxHelpTools {
			names = names[:MaxHelpTools]
		}
		res = models.SuccessResult(HelpTool, helpTextPrefix+strings.Join(names, ", "), 0)
	default:
		res = models.SuccessResult(ClarificationTool, clarificationText, 0)
	}
	ec.AddResult(res)
}
