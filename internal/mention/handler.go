// Package mention answers @-mentions of the bot inside a Slack thread.
//
// A mention runs under its own session: the thread is read into an isolated
// context, the request is classified, tools run against the thread and the
// reply is composed by the LLM when one is configured. Exactly one message is
// posted per mention, either the reply or a fallback chosen by error kind.
package mention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/history"
	"github.com/haasonsaas/threadwise/internal/intent"
	"github.com/haasonsaas/threadwise/internal/llm"
	"github.com/haasonsaas/threadwise/internal/observability"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
	"github.com/haasonsaas/threadwise/internal/sessions"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/internal/tools/builtin"
	"github.com/haasonsaas/threadwise/pkg/models"
)

const (
	// maxToolOutput caps each tool's output in the LLM prompt.
	maxToolOutput = 1200
	// digestMessages caps the messages listed when fetched messages are
	// posted without an LLM.
	digestMessages = 10
)

// Outcomes reported to the Observer.
const (
	OutcomeReplied    = "replied"
	OutcomeFallback   = "fallback"
	OutcomeSkipped    = "skipped"
	OutcomePostFailed = "post_failed"
)

// Event is an inbound Slack message that may mention the bot.
type Event struct {
	Channel  string
	User     string
	Text     string
	TS       string
	ThreadTS string
	BotID    string
	Subtype  string
}

// ThreadRoot is the timestamp of the thread the event belongs to.
func (e Event) ThreadRoot() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// ContextBuilder reads a thread into a bounded context.
type ContextBuilder interface {
	Build(ctx context.Context, channelID, threadTS, selfID string, maxTokens, maxMessages int) (*models.ThreadContext, error)
}

// Poster posts a threaded reply and returns its timestamp.
type Poster interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)
}

// Generator writes a reply for a thread. *llm.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, tc *models.ThreadContext, systemPrompt, userMessage string) (*models.AIResponse, error)
}

// LimitStatus reports rate limiter state.
type LimitStatus interface {
	Statuses() []ratelimit.Status
}

// Observer receives per-mention outcomes. Metrics implement it.
type Observer interface {
	MentionHandled(outcome string, duration time.Duration)
	ErrorOccurred(kind fault.Kind)
}

// Config bounds the context read for each mention.
type Config struct {
	MaxContextTokens   int
	MaxContextMessages int
}

// Deps are the collaborators of a Handler. Generator, History and Limits are
// optional.
type Deps struct {
	Contexts   ContextBuilder
	Poster     Poster
	Sessions   *sessions.Registry
	Classifier *intent.Classifier
	Selector   *tools.Selector
	Executor   *tools.Executor
	Executions *tools.ContextManager
	Generator  Generator
	History    *history.Cache
	Limits     LimitStatus
}

// Handler answers mentions.
type Handler struct {
	deps     Deps
	config   Config
	logger   *slog.Logger
	observer Observer
	nowFunc  func() time.Time // For testing

	mu     sync.RWMutex
	selfID string

	handled atomic.Uint64
	failed  atomic.Uint64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// WithClock overrides the clock used for timings.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.nowFunc = now
		}
	}
}

// NewHandler creates a handler. Contexts, Poster, Sessions, Classifier,
// Selector, Executor and Executions are required.
func NewHandler(deps Deps, config Config, opts ...Option) (*Handler, error) {
	switch {
	case deps.Contexts == nil:
		return nil, fault.New(fault.KindConfiguration, "mention handler requires a context builder")
	case deps.Poster == nil:
		return nil, fault.New(fault.KindConfiguration, "mention handler requires a poster")
	case deps.Sessions == nil:
		return nil, fault.New(fault.KindConfiguration, "mention handler requires a session registry")
	case deps.Classifier == nil || deps.Selector == nil:
		return nil, fault.New(fault.KindConfiguration, "mention handler requires a classifier and selector")
	case deps.Executor == nil || deps.Executions == nil:
		return nil, fault.New(fault.KindConfiguration, "mention handler requires a tool executor and context manager")
	}
	h := &Handler{
		deps:    deps,
		config:  config,
		logger:  slog.Default().With("component", "mention"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// SetSelfID records the bot's own user id once the platform has
// authenticated.
func (h *Handler) SetSelfID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfID = id
}

// SelfID returns the bot's user id.
func (h *Handler) SelfID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.selfID
}

// HandleInboundMention answers ev. Events that should not be processed are
// ignored. The returned error is the failure a fallback was posted for, or
// the error from posting; nil means a reply was posted.
func (h *Handler) HandleInboundMention(ctx context.Context, ev Event) (err error) {
	selfID := h.SelfID()
	if !ShouldProcess(ev, selfID) {
		h.logger.Debug("ignoring event", "channel", ev.Channel, "ts", ev.TS, "subtype", ev.Subtype)
		h.report(OutcomeSkipped, 0)
		return nil
	}

	start := h.nowFunc()
	threadTS := ev.ThreadRoot()
	threadID := models.ThreadID(ev.Channel, threadTS)
	ctx = observability.AddChannel(ctx, ev.Channel)
	ctx = observability.AddUserID(ctx, ev.User)
	ctx = observability.AddThreadID(ctx, threadID)
	logger := h.logger

	ctx, span := otel.Tracer("threadwise/mention").Start(ctx, "mention.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("channel_id", ev.Channel),
		attribute.String("thread_ts", threadTS),
	)

	h.deps.Sessions.CleanupCompleted()
	h.record(ev.Channel, history.Message{TS: ev.TS, UserID: ev.User, Text: ev.Text, ThreadTS: ev.ThreadTS, Kind: history.KindUser})

	var (
		session *sessions.Session
		ec      *tools.ExecutionContext
	)
	defer func() {
		// The verdict covers this session, so it is taken before unregistering.
		logger.DebugContext(ctx, "thread isolation verdict", "isolated", h.deps.Sessions.IsThreadIsolated(threadID))
		if session != nil {
			h.deps.Sessions.Unregister(session)
		}
		if ec != nil {
			h.deps.Executions.Remove(ec.ID)
		}
		h.deps.Sessions.CleanupCompleted()
	}()

	reply, runErr := h.run(ctx, ev, selfID, threadTS, logger, &session, &ec)
	outcome := OutcomeReplied
	if runErr != nil {
		runErr = fault.From(runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(fault.KindOf(runErr)))
		logger.ErrorContext(ctx, "mention failed", "kind", fault.KindOf(runErr), "error", runErr)
		if session != nil {
			session.CompleteWithError(runErr.Error())
		}
		h.failed.Add(1)
		if h.observer != nil {
			h.observer.ErrorOccurred(fault.KindOf(runErr))
		}
		reply = FallbackFor(runErr)
		outcome = OutcomeFallback
	}

	ts, postErr := h.deps.Poster.PostMessage(ctx, ev.Channel, threadTS, reply)
	if postErr != nil {
		logger.ErrorContext(ctx, "failed to post reply", "error", postErr)
		span.RecordError(postErr)
		if session != nil && runErr == nil {
			session.CompleteWithError(postErr.Error())
		}
		h.report(OutcomePostFailed, h.nowFunc().Sub(start))
		return postErr
	}
	h.record(ev.Channel, history.Message{TS: ts, UserID: selfID, Text: reply, ThreadTS: threadTS, Kind: history.KindBot})
	h.handled.Add(1)
	h.report(outcome, h.nowFunc().Sub(start))
	return runErr
}

// run does the work that produces the reply. Panics become internal faults.
func (h *Handler) run(ctx context.Context, ev Event, selfID, threadTS string, logger *slog.Logger, sessionOut **sessions.Session, ecOut **tools.ExecutionContext) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "panic while handling mention", "panic", r, "stack", string(debug.Stack()))
			err = fault.New(fault.KindInternal, "panic: %v", r)
		}
	}()

	session, err := sessions.New(ev.User, ev.Channel, threadTS)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidInput, "mention.session", err)
	}
	*sessionOut = session
	ctx = observability.AddSessionID(ctx, session.ID)
	if others := h.deps.Sessions.Register(session); others > 0 {
		logger.WarnContext(ctx, "thread has concurrent sessions", "others", others)
	}

	session.SetStatus(sessions.StatusAnalyzingContext)
	tc, err := h.deps.Contexts.Build(ctx, ev.Channel, threadTS, selfID, h.config.MaxContextTokens, h.config.MaxContextMessages)
	if err != nil {
		return "", err
	}
	session.SetContext(tc)

	session.SetStatus(sessions.StatusGeneratingResponse)
	if !session.IsContextIsolated() {
		logger.WarnContext(ctx, "context isolation check failed")
	}

	userText := ExtractUserMessage(ev.Text, selfID)
	userIntent := h.deps.Classifier.Classify(userText)
	ec := h.deps.Executions.Create(userIntent, tc, ev.User)
	*ecOut = ec

	bg := h.loadBackground(ev.Channel, threadTS)
	for key, v := range contextParams(userIntent.Parameters, bg.window, h.nowFunc()) {
		ec.UpdateParameter(key, v)
	}

	selected := h.deps.Selector.Select(userIntent)
	logger.InfoContext(ctx, "handling mention",
		"intent", userIntent.Primary,
		"confidence", userIntent.Confidence,
		"tools", selected)
	h.deps.Executor.Execute(ctx, selected, ec)

	resp, err := h.compose(ctx, tc, userText, bg.render(threadTS), ec)
	if err != nil {
		return "", err
	}
	session.CompleteWithResponse(resp)
	return FormatReply(resp.Content), nil
}

// compose turns tool output into reply text.
func (h *Handler) compose(ctx context.Context, tc *models.ThreadContext, userText, background string, ec *tools.ExecutionContext) (*models.AIResponse, error) {
	results := ec.SuccessfulResults()
	if len(results) == 1 && isCanned(results[0].ToolName) {
		return &models.AIResponse{Content: results[0].Data, Provider: "tools", CreatedAt: h.nowFunc()}, nil
	}

	if h.deps.Generator != nil {
		return h.deps.Generator.Generate(ctx, tc, llm.ToolSystemPrompt, toolPrompt(userText, background, results, ec.FailedResults()))
	}

	if len(results) == 0 {
		return nil, fault.New(fault.KindToolError, "no tool produced output: %s", strings.Join(ec.Errors(), "; "))
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.ToolName == builtin.FetchMessagesName && len(results) > 1 {
			continue
		}
		parts = append(parts, renderOutput(r))
	}
	return &models.AIResponse{Content: strings.Join(parts, "\n\n"), Provider: "tools", CreatedAt: h.nowFunc()}, nil
}

func isCanned(name string) bool {
	return name == tools.GreetingTool || name == tools.HelpTool || name == tools.ClarificationTool
}

// toolPrompt is the user turn sent to the LLM alongside the thread.
func toolPrompt(userText, background string, ok, failed []models.ToolResult) string {
	var b strings.Builder
	if userText == "" {
		userText = "Please help with this conversation."
	}
	b.WriteString(userText)
	if len(ok) > 0 {
		b.WriteString("\n\nTool results:")
		for _, r := range ok {
			fmt.Fprintf(&b, "\n[%s]\n%s", r.ToolName, clip(r.Data, maxToolOutput))
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n\nFailed tools:")
		for _, r := range failed {
			fmt.Fprintf(&b, "\n- %s: %s", r.ToolName, clip(r.Error, 200))
		}
	}
	if background != "" {
		b.WriteString("\n\nChannel background:\n")
		b.WriteString(background)
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// renderOutput makes a tool result readable in Slack.
func renderOutput(r models.ToolResult) string {
	if r.ToolName != builtin.FetchMessagesName {
		return r.Data
	}
	var payload struct {
		Channel  string `json:"channel"`
		Total    int    `json:"total_fetched"`
		Messages []struct {
			User string `json:"user"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(r.Data), &payload); err != nil {
		return r.Data
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Fetched %d recent messages:", payload.Total)
	msgs := payload.Messages
	if len(msgs) > digestMessages {
		msgs = msgs[len(msgs)-digestMessages:]
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n• <@%s>: %s", m.User, clip(m.Text, 120))
	}
	return b.String()
}

func (h *Handler) record(channel string, msg history.Message) {
	if h.deps.History == nil || msg.TS == "" {
		return
	}
	h.deps.History.AddMessage(channel, msg)
}

// RecordMessage appends a plain channel message to the history cache.
func (h *Handler) RecordMessage(ev Event) {
	kind := history.KindUser
	if ev.BotID != "" || ev.Subtype == "bot_message" {
		kind = history.KindBot
	}
	h.record(ev.Channel, history.Message{TS: ev.TS, UserID: ev.User, Text: ev.Text, ThreadTS: ev.ThreadTS, Kind: kind})
}

func (h *Handler) report(outcome string, d time.Duration) {
	if h.observer != nil {
		h.observer.MentionHandled(outcome, d)
	}
}

// Stats is the read-only operational view of the handler.
type Stats struct {
	ActiveSessions     int                `json:"active_sessions"`
	ActiveThreads      []string           `json:"active_threads"`
	OverlappingThreads []string           `json:"overlapping_threads,omitempty"`
	Executions         int                `json:"executions"`
	Handled            uint64             `json:"mentions_handled"`
	Failed             uint64             `json:"mentions_failed"`
	HistoryHits        uint64             `json:"history_hits"`
	HistoryMisses      uint64             `json:"history_misses"`
	LLMCache           *llm.CacheStats    `json:"llm_cache,omitempty"`
	RateLimits         []ratelimit.Status `json:"rate_limits,omitempty"`
}

// Stats returns a snapshot of the handler and its collaborators.
func (h *Handler) Stats() Stats {
	snap := h.deps.Sessions.Snapshot()
	s := Stats{
		ActiveSessions:     snap.ActiveSessions,
		ActiveThreads:      snap.ActiveThreads,
		OverlappingThreads: snap.Overlapping,
		Executions:         h.deps.Executions.Len(),
		Handled:            h.handled.Load(),
		Failed:             h.failed.Load(),
	}
	if h.deps.History != nil {
		s.HistoryHits = h.deps.History.Hits()
		s.HistoryMisses = h.deps.History.Misses()
	}
	if cs, ok := h.deps.Generator.(interface{ CacheStats() llm.CacheStats }); ok {
		stats := cs.CacheStats()
		s.LLMCache = &stats
	}
	if h.deps.Limits != nil {
		s.RateLimits = h.deps.Limits.Statuses()
	}
	return s
}
