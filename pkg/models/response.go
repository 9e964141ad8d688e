package models

import (
	"fmt"
	"time"
)

// MaxResponseChars bounds a generated reply before platform formatting.
const MaxResponseChars = 4000

// AIResponse is a generated reply with usage metadata.
type AIResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	GenerationTime   time.Duration `json:"generation_time"`
	Cached           bool          `json:"cached,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Validate checks that the response is usable.
func (r *AIResponse) Validate() error {
	if r == nil {
		return fmt.Errorf("response is nil")
	}
	if r.Content == "" {
		return fmt.Errorf("response content is empty")
	}
	if n := len([]rune(r.Content)); n > MaxResponseChars {
		return fmt.Errorf("response has %d chars, limit is %d", n, MaxResponseChars)
	}
	if r.PromptTokens < 0 || r.CompletionTokens < 0 {
		return fmt.Errorf("negative token usage")
	}
	if r.TotalTokens != 0 && r.PromptTokens+r.CompletionTokens != r.TotalTokens {
		return fmt.Errorf("token usage does not add up: %d + %d != %d",
			r.PromptTokens, r.CompletionTokens, r.TotalTokens)
	}
	return nil
}
