// Package threadctx builds token-bounded conversation contexts from Slack threads.
package threadctx

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// DefaultMaxMessageAge drops thread messages older than a day.
const DefaultMaxMessageAge = 24 * time.Hour

// MessageSource fetches the raw messages of a thread, oldest first.
type MessageSource interface {
	FetchThreadMessages(ctx context.Context, channelID, threadTS string) ([]models.RawMessage, error)
}

// Config configures a Builder.
type Config struct {
	// MaxTokens is the default budget when Build is called with a non-positive value.
	MaxTokens int
	// MaxMessages is the default cap when Build is called with a non-positive value.
	MaxMessages int
	// MaxMessageAge filters out older messages. Zero disables the filter.
	MaxMessageAge time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     models.DefaultContextTokens,
		MaxMessages:   models.DefaultContextMsgSize,
		MaxMessageAge: DefaultMaxMessageAge,
	}
}

// Builder converts a Slack thread into a ThreadContext.
type Builder struct {
	source  MessageSource
	config  Config
	logger  *slog.Logger
	nowFunc func() time.Time // For testing
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNow overrides the clock used for the age filter.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.nowFunc = now
		}
	}
}

// NewBuilder creates a builder reading from source.
func NewBuilder(source MessageSource, config Config, opts ...Option) *Builder {
	if config.MaxTokens <= 0 {
		config.MaxTokens = models.DefaultContextTokens
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = models.DefaultContextMsgSize
	}
	if config.MaxMessageAge < 0 {
		config.MaxMessageAge = 0
	}
	b := &Builder{
		source:  source,
		config:  config,
		logger:  slog.Default().With("component", "threadctx"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches the thread and selects messages newest first until the next
// message would exceed maxTokens or maxMessages. Non-positive limits use the
// configured defaults; limits are clamped to the ThreadContext invariants.
// Fetch failures are returned as context_analysis faults.
func (b *Builder) Build(ctx context.Context, channelID, threadTS, selfID string, maxTokens, maxMessages int) (*models.ThreadContext, error) {
	ctx, span := otel.Tracer("threadwise/threadctx").Start(ctx, "context.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("channel_id", channelID),
		attribute.String("thread_ts", threadTS),
	)

	maxTokens, maxMessages = b.limits(maxTokens, maxMessages)
	threadID := models.ThreadID(channelID, threadTS)

	start := b.nowFunc()
	raw, err := b.source.FetchThreadMessages(ctx, channelID, threadTS)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		b.logger.Error("failed to fetch thread messages", "thread_id", threadID, "error", err)
		return nil, &fault.Error{
			Kind:    fault.KindContextAnalysis,
			Op:      "context.build",
			Message: "failed to fetch thread messages",
			Cause:   err,
		}
	}
	raw = b.filterByAge(raw)

	tc := &models.ThreadContext{
		ChannelID: channelID,
		ThreadTS:  threadTS,
		Messages:  make([]models.ThreadMessage, 0, min(len(raw), maxMessages)),
		CreatedAt: b.nowFunc(),
	}

	for i := len(raw) - 1; i >= 0; i-- {
		msg, ok := ConvertMessage(raw[i], selfID)
		if !ok {
			continue
		}
		if tc.TokenCount+msg.TokenCount > maxTokens || len(tc.Messages) >= maxMessages {
			b.logger.Info("truncating thread context",
				"thread_id", threadID,
				"tokens", tc.TokenCount+msg.TokenCount,
				"messages", len(tc.Messages)+1)
			break
		}
		tc.Messages = append(tc.Messages, msg)
		tc.TokenCount += msg.TokenCount
	}

	span.SetAttributes(
		attribute.Int("messages", len(tc.Messages)),
		attribute.Int("tokens", tc.TokenCount),
	)
	b.logger.Debug("built thread context",
		"thread_id", threadID,
		"fetched", len(raw),
		"messages", len(tc.Messages),
		"tokens", tc.TokenCount,
		"duration", b.nowFunc().Sub(start))
	return tc, nil
}

// BuildResult wraps Build in a fault.Result.
func (b *Builder) BuildResult(ctx context.Context, channelID, threadTS, selfID string, maxTokens, maxMessages int) fault.Result[*models.ThreadContext] {
	tc, err := b.Build(ctx, channelID, threadTS, selfID, maxTokens, maxMessages)
	if err != nil {
		return fault.Fail[*models.ThreadContext](err)
	}
	return fault.Ok(tc)
}

func (b *Builder) limits(maxTokens, maxMessages int) (int, int) {
	if maxTokens <= 0 {
		maxTokens = b.config.MaxTokens
	}
	if maxMessages <= 0 {
		maxMessages = b.config.MaxMessages
	}
	return min(maxTokens, models.MaxContextTokens), min(maxMessages, models.MaxContextMessages)
}

func (b *Builder) filterByAge(raw []models.RawMessage) []models.RawMessage {
	if b.config.MaxMessageAge <= 0 {
		return raw
	}
	cutoff := b.nowFunc().Add(-b.config.MaxMessageAge)
	out := make([]models.RawMessage, 0, len(raw))
	for _, msg := range raw {
		ts, err := models.ParseTS(msg.TS)
		if err != nil {
			b.logger.Warn("skipping message with invalid timestamp", "ts", msg.TS)
			continue
		}
		if ts.After(cutoff) {
			out = append(out, msg)
		}
	}
	return out
}

// ConvertMessage cleans a raw Slack message. It reports false when nothing
// usable remains.
func ConvertMessage(raw models.RawMessage, selfID string) (models.ThreadMessage, bool) {
	isBot := IsBotMessage(raw, selfID)
	text := CleanText(raw.Text)
	if text == "" {
		return models.ThreadMessage{}, false
	}
	if isBot && raw.Username != "" {
		text = "[" + raw.Username + "]: " + text
	}
	if runes := []rune(text); len(runes) > models.MaxMessageChars {
		text = string(runes[:models.MaxMessageChars])
	}

	userID := raw.User
	if userID == "" && raw.BotID != "" {
		userID = raw.BotID
	}
	return models.ThreadMessage{
		UserID:     userID,
		Text:       text,
		Timestamp:  raw.TS,
		IsBot:      isBot,
		TokenCount: EstimateMessageTokens(text),
	}, true
}

// IsBotMessage reports whether raw was written by this bot or any other bot.
func IsBotMessage(raw models.RawMessage, selfID string) bool {
	return (selfID != "" && raw.User == selfID) || raw.BotID != "" || raw.Subtype == "bot_message"
}
