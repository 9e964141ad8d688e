package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/threadwise/internal/threadctx"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Summary styles.
const (
	StyleBrief    = "brief"
	StyleDetailed = "detailed"
)

// summaryTokenBudget leaves room under the prompt limit for the instructions.
const summaryTokenBudget = 2400

const (
	summarySystemPrompt = "You summarize Slack conversations for the people in them. " +
		"Be accurate, neutral and concise. Never invent details that are not in the messages."
	briefInstruction    = "Summarize the conversation above in two or three sentences."
	detailedInstruction = "Write a detailed summary of the conversation above: the main topics, " +
		"any decisions or action items, and open questions. Use short bullet points."
)

// SummarizeMessages summarizes recent messages, with the LLM when one is
// configured and a statistical summary otherwise.
type SummarizeMessages struct {
	base
	reader     ChannelReader
	summarizer Summarizer
	logger     *slog.Logger
}

// NewSummarizeMessages creates the summarize_messages tool. summarizer may be nil.
func NewSummarizeMessages(reader ChannelReader, summarizer Summarizer) *SummarizeMessages {
	return &SummarizeMessages{
		base: base{
			name:        SummarizeMessagesName,
			description: "Generate a summary of Slack messages using AI analysis",
			keywords:    []string{"style", "summary", "summarize", "recap"},
		},
		reader:     reader,
		summarizer: summarizer,
		logger:     slog.Default().With("component", "tool-summarize"),
	}
}

// Schema implements tools.Tool.
func (t *SummarizeMessages) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"channel_id": channelProp,
		"thread_ts":  threadProp,
		"limit":      limitProp,
		"style":      map[string]any{"type": "string", "enum": []string{StyleBrief, StyleDetailed}},
	}, "channel_id")
}

// Execute implements tools.Tool.
func (t *SummarizeMessages) Execute(ctx context.Context, params models.Params) (string, error) {
	msgs, err := loadMessages(ctx, t.reader, params)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "No messages to summarize.", nil
	}
	style := params.StringOr("style", StyleBrief)
	channel := params.StringOr("channel_id", "unknown")

	if t.summarizer != nil {
		if tc := summaryContext(channel, params.StringOr("thread_ts", ""), msgs); tc != nil {
			instruction := briefInstruction
			if style == StyleDetailed {
				instruction = detailedInstruction
			}
			resp, err := t.summarizer.Generate(ctx, tc, summarySystemPrompt, instruction)
			if err == nil {
				return resp.Content, nil
			}
			t.logger.Warn("llm summary failed, using basic summary", "channel", channel, "error", err)
		}
	}
	return BasicSummary(msgs, channel, style), nil
}

// BasicSummary describes msgs by volume and participation.
func BasicSummary(msgs []models.RawMessage, channel, style string) string {
	users := make(map[string]struct{})
	for _, m := range msgs {
		if m.User != "" {
			users[m.User] = struct{}{}
		}
	}
	count, userCount := len(msgs), len(users)

	if style == StyleDetailed {
		return fmt.Sprintf(`Conversation Summary:
Channel: %s
Messages analyzed: %d
Participants: %d users
Time range: Recent conversation

Key highlights:
- %d messages exchanged between %d participants
- Discussion took place in channel %s
- Messages include various topics and interactions`, channel, count, userCount, count, userCount, channel)
	}
	return fmt.Sprintf("Conversation summary: %d messages from %d users in %s. Recent discussion captured.", count, userCount, channel)
}

// summaryContext keeps the newest cleaned messages that fit the budget.
func summaryContext(channel, threadTS string, msgs []models.RawMessage) *models.ThreadContext {
	tc := &models.ThreadContext{ChannelID: channel, ThreadTS: threadTS}
	for i := len(msgs) - 1; i >= 0; i-- {
		m, ok := threadctx.ConvertMessage(msgs[i], "")
		if !ok {
			continue
		}
		if tc.TokenCount+m.TokenCount > summaryTokenBudget {
			break
		}
		tc.Messages = append(tc.Messages, m)
		tc.TokenCount += m.TokenCount
	}
	if len(tc.Messages) == 0 {
		return nil
	}
	return tc
}
