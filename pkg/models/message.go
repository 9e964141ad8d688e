// Package models provides domain types shared across threadwise components.
package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Role indicates the message author type when a conversation is replayed to an LLM.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Limits that every ThreadContext honours.
const (
	MaxMessageChars       = 4000
	MaxContextMessages    = 50
	MaxContextTokens      = 4000
	DefaultContextTokens  = 3000
	DefaultContextMsgSize = 50
)

// RawMessage is a message as delivered by the chat platform.
type RawMessage struct {
	Text     string `json:"text"`
	User     string `json:"user,omitempty"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Username string `json:"username,omitempty"`
}

// ThreadMessage is a cleaned message admitted into a ThreadContext.
type ThreadMessage struct {
	UserID     string `json:"user_id"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	IsBot      bool   `json:"is_bot"`
	TokenCount int    `json:"token_count"`
}

// Validate checks the ThreadMessage invariants.
func (m ThreadMessage) Validate() error {
	if m.Text == "" {
		return fmt.Errorf("message text is empty")
	}
	if n := len([]rune(m.Text)); n > MaxMessageChars {
		return fmt.Errorf("message text has %d chars, limit is %d", n, MaxMessageChars)
	}
	if m.TokenCount < 0 {
		return fmt.Errorf("negative token count %d", m.TokenCount)
	}
	return nil
}

// ThreadContext is a token-bounded view of one conversation thread.
// Messages are ordered newest first.
type ThreadContext struct {
	ChannelID  string          `json:"channel_id"`
	ThreadTS   string          `json:"thread_ts"`
	Messages   []ThreadMessage `json:"messages"`
	TokenCount int             `json:"token_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ThreadID returns the composite channel:thread identifier.
func (c *ThreadContext) ThreadID() string {
	if c == nil {
		return ""
	}
	return ThreadID(c.ChannelID, c.ThreadTS)
}

// Chronological returns a copy of the messages ordered oldest first.
func (c *ThreadContext) Chronological() []ThreadMessage {
	if c == nil {
		return nil
	}
	out := make([]ThreadMessage, len(c.Messages))
	for i, msg := range c.Messages {
		out[len(c.Messages)-1-i] = msg
	}
	return out
}

// Participants returns the distinct non-bot authors in first-seen (newest first) order.
func (c *ThreadContext) Participants() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var users []string
	for _, msg := range c.Messages {
		if msg.IsBot || msg.UserID == "" {
			continue
		}
		if _, ok := seen[msg.UserID]; ok {
			continue
		}
		seen[msg.UserID] = struct{}{}
		users = append(users, msg.UserID)
	}
	return users
}

// ThreadID builds the composite identifier used for isolation tracking.
func ThreadID(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

// ParseTS converts a Slack "seconds.micros" timestamp to a time.
func ParseTS(ts string) (time.Time, error) {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

// FormatTS renders t as a Slack timestamp.
func FormatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
