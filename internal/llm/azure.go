package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// DefaultAzureAPIVersion is used when AzureConfig.APIVersion is empty.
const DefaultAzureAPIVersion = "2024-02-01"

// AzureConfig configures an AzureClient.
type AzureConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	Model      string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// chatCompleter is the slice of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AzureClient completes chats against an Azure OpenAI deployment.
type AzureClient struct {
	api        chatCompleter
	deployment string
	model      string
	timeout    time.Duration
	retry      retrier
	logger     *slog.Logger
}

// NewAzureClient validates cfg and builds a client.
func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fault.New(fault.KindConfiguration, "azure: api key is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fault.New(fault.KindConfiguration, "azure: endpoint must be an https URL")
	}
	if cfg.Deployment == "" {
		return nil, fault.New(fault.KindConfiguration, "azure: deployment name is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion
	deployment := cfg.Deployment
	clientConfig.AzureModelMapperFunc = func(string) string { return deployment }

	return newAzureClient(openai.NewClientWithConfig(clientConfig), cfg), nil
}

func newAzureClient(api chatCompleter, cfg AzureConfig) *AzureClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Deployment
	}
	return &AzureClient{
		api:        api,
		deployment: cfg.Deployment,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		retry:      retrier{maxRetries: cfg.MaxRetries, delay: cfg.RetryDelay},
		logger:     slog.Default().With("component", "llm-azure"),
	}
}

// Name implements Client.
func (c *AzureClient) Name() string { return "azure" }

// Complete implements Client.
func (c *AzureClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	if len(req.Messages) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "azure: request has no messages")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	attempt := 0
	err := c.retry.do(ctx, func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var err error
		resp, err = c.api.CreateChatCompletion(callCtx, chatReq)
		if err != nil {
			fe := fault.FromLLMError("azure.complete", err)
			c.logger.Warn("chat completion failed", "attempt", attempt, "kind", fe.Kind, "error", err)
			return fe
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.KindAIService, "azure: response has no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fault.New(fault.KindAIService, "azure: empty response content")
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:          content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Duration:         time.Since(start),
	}, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (c *AzureClient) String() string {
	return fmt.Sprintf("azure(%s)", c.deployment)
}
