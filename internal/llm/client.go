// Package llm talks to the language model backends that turn tool output and
// thread context into a reply.
package llm

import (
	"context"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

// Request defaults.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
)

// Message is one turn of the prompt.
type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response is a completed generation.
type Response struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Duration         time.Duration `json:"duration"`
}

// Client is a chat completion backend.
type Client interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Complete runs one generation. Errors are *fault.Error values.
	Complete(ctx context.Context, req Request) (*Response, error)
}

func (r Request) withDefaults() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature <= 0 {
		r.Temperature = DefaultTemperature
	}
	return r
}

// splitSystem separates the system prompt from the conversation turns.
func splitSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
