package llm

import (
	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/threadctx"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// MaxPromptTokens is the prompt budget; the rest of the model window is
// left for the reply.
const MaxPromptTokens = 3000

// Prompts.
const (
	DefaultSystemPrompt = "You are a helpful Slack bot assistant. " +
		"Provide concise, friendly, and contextually relevant responses. " +
		"Keep responses under 2000 characters."

	ToolSystemPrompt = "You are a Slack assistant that answers using the output of analysis tools. " +
		"Base the reply on the tool results below and the conversation, keep it under 2000 characters, " +
		"and say so plainly when a tool failed or returned nothing useful."

	defaultInstruction = "Please provide a helpful response to the above conversation."
)

// BuildMessages lays out a prompt: the system prompt, the thread oldest
// first, then userMessage (or a generic instruction). Author ids are not sent.
// Thread messages are dropped oldest first until the prompt fits
// MaxPromptTokens. Only a system prompt and user turn that are too large on
// their own are an error.
func BuildMessages(tc *models.ThreadContext, systemPrompt, userMessage string) ([]Message, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if userMessage == "" {
		userMessage = defaultInstruction
	}
	system := Message{Role: models.RoleSystem, Content: systemPrompt}
	user := Message{Role: models.RoleUser, Content: userMessage}

	used := threadctx.EstimateTokens(system.Content) + threadctx.EstimateTokens(user.Content)
	if used > MaxPromptTokens {
		return nil, fault.New(fault.KindContextAnalysis, "context too large: %d tokens (max: %d)", used, MaxPromptTokens)
	}

	// tc.Messages is newest first, so the walk keeps the most recent turns.
	var kept []Message
	if tc != nil {
		for _, m := range tc.Messages {
			turn := threadTurn(m)
			cost := threadctx.EstimateTokens(turn.Content)
			if used+cost > MaxPromptTokens {
				break
			}
			used += cost
			kept = append(kept, turn)
		}
	}

	msgs := make([]Message, 0, len(kept)+2)
	msgs = append(msgs, system)
	for i := len(kept) - 1; i >= 0; i-- {
		msgs = append(msgs, kept[i])
	}
	return append(msgs, user), nil
}

func threadTurn(m models.ThreadMessage) Message {
	if m.IsBot {
		return Message{Role: models.RoleAssistant, Content: m.Text}
	}
	return Message{Role: models.RoleUser, Content: "Message from user: " + m.Text}
}

// PromptTokens estimates the token count of msgs.
func PromptTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += threadctx.EstimateTokens(m.Content)
	}
	return total
}
