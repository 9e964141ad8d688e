package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// DefaultAnthropicModel is used when AnthropicConfig.Model is empty.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// messageCreator is the slice of anthropic.MessageService used here.
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient completes chats with the Anthropic Messages API.
type AnthropicClient struct {
	api     messageCreator
	model   string
	timeout time.Duration
	retry   retrier
	logger  *slog.Logger
}

// NewAnthropicClient validates cfg and builds a client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fault.New(fault.KindConfiguration, "anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// The SDK retries on its own; retries are handled here instead.
	opts = append(opts, option.WithMaxRetries(0))
	client := anthropic.NewClient(opts...)
	return newAnthropicClient(&client.Messages, cfg), nil
}

func newAnthropicClient(api messageCreator, cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &AnthropicClient{
		api:     api,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   retrier{maxRetries: cfg.MaxRetries, delay: cfg.RetryDelay},
		logger:  slog.Default().With("component", "llm-anthropic"),
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	system, turns := splitSystem(req.Messages)
	if len(turns) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "anthropic: request has no conversation turns")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    toAnthropicMessages(turns),
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	var msg *anthropic.Message
	err := c.retry.do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var err error
		msg, err = c.api.New(callCtx, params)
		if err != nil {
			fe := fault.FromLLMError("anthropic.complete", err)
			c.logger.Warn("messages call failed", "kind", fe.Kind, "error", err)
			return fe
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil, fault.New(fault.KindAIService, "anthropic: empty response content")
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	model := string(msg.Model)
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:          content,
		Model:            model,
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
		Duration:         time.Since(start),
	}, nil
}

// toAnthropicMessages merges consecutive turns of the same role, which the
// Messages API rejects.
func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var lastRole models.Role
	var pending []string
	flush := func() {
		if len(pending) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(pending, "\n\n"))
		if lastRole == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
		pending = nil
	}
	for _, m := range msgs {
		role := m.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		pending = append(pending, m.Content)
	}
	flush()
	return out
}
