// Package builtin provides the Slack-backed tools the assistant ships with.
package builtin

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Tool names.
const (
	FetchMessagesName       = "fetch_slack_messages"
	SummarizeMessagesName   = "summarize_messages"
	AnalyzeConversationName = "analyze_conversation"
	ParticipantInfoName     = "get_participant_info"
)

// MaxFetch caps how many messages a tool reads.
const MaxFetch = 100

// ChannelReader reads messages from the chat platform. Channel history is
// newest first; thread messages are oldest first.
type ChannelReader interface {
	FetchChannelHistory(ctx context.Context, channelID string, limit int) ([]models.RawMessage, error)
	FetchThreadMessages(ctx context.Context, channelID, threadTS string) ([]models.RawMessage, error)
}

// RangeReader reads channel history between two Slack timestamps. Either
// bound may be empty.
type RangeReader interface {
	FetchChannelHistoryRange(ctx context.Context, channelID, oldest, latest string, limit int) ([]models.RawMessage, error)
}

// UserDirectory resolves user ids to display names.
type UserDirectory interface {
	UserDisplayName(ctx context.Context, userID string) (string, error)
}

// Summarizer writes a reply for a thread. *llm.Generator implements it.
type Summarizer interface {
	Generate(ctx context.Context, tc *models.ThreadContext, systemPrompt, userMessage string) (*models.AIResponse, error)
}

// Deps are the collaborators the tools need. Users and Summarizer are
// optional.
type Deps struct {
	Reader     ChannelReader
	Users      UserDirectory
	Summarizer Summarizer
}

// Toggle enables a tool and optionally overrides its description.
type Toggle struct {
	Enabled     bool
	Description string
}

// New builds every tool, honouring toggles. A nil toggles map enables all
// tools with their default descriptions; a tool missing from a non-nil map is
// disabled.
func New(deps Deps, toggles map[string]Toggle) []tools.Tool {
	all := []describedTool{
		NewFetchMessages(deps.Reader),
		NewSummarizeMessages(deps.Reader, deps.Summarizer),
		NewAnalyzeConversation(deps.Reader),
		NewParticipantInfo(deps.Reader, deps.Users),
	}
	var out []tools.Tool
	for _, t := range all {
		if toggles != nil {
			tg, ok := toggles[t.Name()]
			if !ok || !tg.Enabled {
				continue
			}
			if tg.Description != "" {
				t.setDescription(tg.Description)
			}
		}
		out = append(out, t)
	}
	return out
}

// Register replaces the built-in tools in reg with the enabled set.
func Register(reg *tools.Registry, deps Deps, toggles map[string]Toggle) ([]string, error) {
	for _, name := range []string{FetchMessagesName, SummarizeMessagesName, AnalyzeConversationName, ParticipantInfoName} {
		reg.Unregister(name)
	}
	var names []string
	for _, t := range New(deps, toggles) {
		if err := reg.Register(t); err != nil {
			return names, err
		}
		names = append(names, t.Name())
	}
	return names, nil
}

type describedTool interface {
	tools.Tool
	setDescription(string)
}

// base carries the fields every built-in shares.
type base struct {
	name        string
	description string
	keywords    []string
}

func (b *base) Name() string               { return b.name }
func (b *base) Description() string        { return b.description }
func (b *base) Keywords() []string         { return append([]string(nil), b.keywords...) }
func (b *base) setDescription(desc string) { b.description = desc }

func schemaOf(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

var (
	channelProp = map[string]any{"type": "string", "minLength": 1, "description": "Slack channel id."}
	threadProp  = map[string]any{"type": "string", "description": "Thread timestamp; empty reads the channel."}
	limitProp   = map[string]any{"type": "integer", "minimum": 1, "description": "Number of messages to read (max 100)."}
	oldestProp  = map[string]any{"type": "string", "pattern": `^\d+(\.\d+)?$`, "description": "Only messages at or after this Slack timestamp."}
	latestProp  = map[string]any{"type": "string", "pattern": `^\d+(\.\d+)?$`, "description": "Only messages before this Slack timestamp."}
)

// loadMessages reads the thread when params name one, else the channel's
// recent history, and keeps at most limit messages, newest last.
func loadMessages(ctx context.Context, reader ChannelReader, params models.Params) ([]models.RawMessage, error) {
	if reader == nil {
		return nil, fault.New(fault.KindConfiguration, "no message reader configured")
	}
	channel := params.StringOr("channel_id", "")
	if channel == "" {
		return nil, fault.New(fault.KindInvalidInput, "channel_id is required")
	}
	limit := clampLimit(params.IntOr("limit", tools.DefaultLimit))

	var (
		msgs []models.RawMessage
		err  error
	)
	if ts := params.StringOr("thread_ts", ""); ts != "" {
		msgs, err = reader.FetchThreadMessages(ctx, channel, ts)
	} else {
		msgs, err = reader.FetchChannelHistory(ctx, channel, limit)
		// History comes back newest first.
		msgs = chronological(msgs)
	}
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func clampLimit(n int) int {
	return min(max(n, 1), MaxFetch)
}

func chronological(msgs []models.RawMessage) []models.RawMessage {
	out := append([]models.RawMessage(nil), msgs...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, erri := models.ParseTS(out[i].TS)
		tj, errj := models.ParseTS(out[j].TS)
		if erri != nil || errj != nil {
			return false
		}
		return ti.Before(tj)
	})
	return out
}

// participantCount is one author's share of a conversation.
type participantCount struct {
	UserID   string `json:"user_id"`
	Name     string `json:"display_name,omitempty"`
	Messages int    `json:"message_count"`
}

// countParticipants tallies human authors, most active first, ties by id.
func countParticipants(msgs []models.RawMessage) []participantCount {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.User == "" || m.BotID != "" || m.Subtype == "bot_message" {
			continue
		}
		counts[m.User]++
	}
	out := make([]participantCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, participantCount{UserID: id, Messages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
