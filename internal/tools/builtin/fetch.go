package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// FetchMessages returns a channel's recent history as JSON.
type FetchMessages struct {
	base
	reader  ChannelReader
	nowFunc func() time.Time // For testing
}

// NewFetchMessages creates the fetch_slack_messages tool.
func NewFetchMessages(reader ChannelReader) *FetchMessages {
	return &FetchMessages{
		base: base{
			name:        FetchMessagesName,
			description: "Fetch recent messages from a Slack channel for analysis or summarization",
			keywords:    []string{"message_count", "channel_reference", "time_reference", "messages", "history"},
		},
		reader:  reader,
		nowFunc: time.Now,
	}
}

// Schema implements tools.Tool.
func (t *FetchMessages) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"channel_id": channelProp,
		"limit":      limitProp,
		"oldest":     oldestProp,
		"latest":     latestProp,
	}, "channel_id")
}

type fetchedMessage struct {
	Text      string `json:"text"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

type fetchResult struct {
	Messages       []fetchedMessage `json:"messages"`
	Channel        string           `json:"channel"`
	TotalFetched   int              `json:"total_fetched"`
	FetchTimestamp string           `json:"fetch_timestamp"`
}

// Execute implements tools.Tool.
func (t *FetchMessages) Execute(ctx context.Context, params models.Params) (string, error) {
	if t.reader == nil {
		return "", fault.New(fault.KindConfiguration, "no message reader configured")
	}
	channel := params.StringOr("channel_id", "")
	if channel == "" {
		return "", fault.New(fault.KindInvalidInput, "Channel ID cannot be empty")
	}
	limit := clampLimit(params.IntOr("limit", tools.DefaultLimit))

	oldest, latest := params.StringOr("oldest", ""), params.StringOr("latest", "")

	var (
		raw []models.RawMessage
		err error
	)
	if rr, ok := t.reader.(RangeReader); ok && (oldest != "" || latest != "") {
		raw, err = rr.FetchChannelHistoryRange(ctx, channel, oldest, latest, limit)
	} else {
		raw, err = t.reader.FetchChannelHistory(ctx, channel, limit)
	}
	if err != nil {
		return "", err
	}
	raw = withinRange(raw, oldest, latest)
	if len(raw) > limit {
		raw = raw[:limit]
	}

	res := fetchResult{
		Messages:       make([]fetchedMessage, 0, len(raw)),
		Channel:        channel,
		FetchTimestamp: t.nowFunc().UTC().Format(time.RFC3339),
	}
	for _, m := range raw {
		user := m.User
		if user == "" {
			user = "unknown"
		}
		res.Messages = append(res.Messages, fetchedMessage{
			Text:      m.Text,
			User:      user,
			Timestamp: m.TS,
			Type:      "message",
			ThreadTS:  m.ThreadTS,
		})
	}
	res.TotalFetched = len(res.Messages)

	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "fetch_slack_messages", err)
	}
	return string(payload), nil
}

// withinRange keeps messages with oldest <= ts < latest. Empty bounds and
// unparsable timestamps do not filter.
func withinRange(msgs []models.RawMessage, oldest, latest string) []models.RawMessage {
	from, errFrom := models.ParseTS(oldest)
	to, errTo := models.ParseTS(latest)
	if errFrom != nil && errTo != nil {
		return msgs
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		t, err := models.ParseTS(m.TS)
		switch {
		case err != nil:
		case errFrom == nil && t.Before(from):
			continue
		case errTo == nil && !t.Before(to):
			continue
		}
		out = append(out, m)
	}
	return out
}
