package slack

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Paging limits for conversations.replies.
const (
	repliesPageSize = 200
	maxReplies      = 1000
	maxHistory      = 100
)

// Platform is the rate-limited Web API surface used by the assistant. It
// reads threads for context building, channel history for tools, resolves
// users and channels, and posts replies.
type Platform struct {
	api    SlackAPIClient
	limits *ratelimit.Registry
	logger *slog.Logger

	mu        sync.RWMutex
	botUserID string
	botID     string
}

// PlatformOption configures a Platform.
type PlatformOption func(*Platform)

// WithPlatformLogger sets the logger.
func WithPlatformLogger(logger *slog.Logger) PlatformOption {
	return func(p *Platform) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlatform wraps api. Every call goes through limits under its Web API
// method name.
func NewPlatform(api SlackAPIClient, limits *ratelimit.Registry, opts ...PlatformOption) *Platform {
	if limits == nil {
		limits = ratelimit.NewRegistry(nil)
	}
	p := &Platform{
		api:    api,
		limits: limits,
		logger: slog.Default().With("component", "slack"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// call runs fn under endpoint's limiter and classifies Slack errors.
func (p *Platform) call(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	return p.limits.Guard(ctx, endpoint, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fault.FromSlackError(endpoint, err)
		}
		return nil
	})
}

// Authenticate resolves the bot's own user id.
func (p *Platform) Authenticate(ctx context.Context) (string, error) {
	resp, err := p.api.AuthTestContext(ctx)
	if err != nil {
		return "", fault.FromSlackError("auth.test", err)
	}
	p.mu.Lock()
	p.botUserID, p.botID = resp.UserID, resp.BotID
	p.mu.Unlock()
	p.logger.Info("authenticated with slack", "bot_user_id", resp.UserID, "team", resp.Team)
	return resp.UserID, nil
}

// BotUserID returns the id learned by Authenticate.
func (p *Platform) BotUserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.botUserID
}

// FetchThreadMessages returns a thread's messages oldest first, following
// pagination up to a fixed cap.
func (p *Platform) FetchThreadMessages(ctx context.Context, channelID, threadTS string) ([]models.RawMessage, error) {
	var out []models.RawMessage
	cursor := ""
	for {
		var (
			page    []slack.Message
			hasMore bool
			next    string
		)
		err := p.call(ctx, ratelimit.EndpointConversationsReplies, func(ctx context.Context) error {
			var err error
			page, hasMore, next, err = p.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channelID,
				Timestamp: threadTS,
				Cursor:    cursor,
				Limit:     repliesPageSize,
				Inclusive: true,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			out = append(out, toRaw(m))
		}
		if !hasMore || next == "" || len(out) >= maxReplies {
			break
		}
		cursor = next
	}
	return out, nil
}

// FetchChannelHistory returns up to limit recent channel messages, newest first.
func (p *Platform) FetchChannelHistory(ctx context.Context, channelID string, limit int) ([]models.RawMessage, error) {
	return p.FetchChannelHistoryRange(ctx, channelID, "", "", limit)
}

// FetchChannelHistoryRange is FetchChannelHistory bounded by the oldest and
// latest Slack timestamps. Empty bounds are left to Slack's defaults.
func (p *Platform) FetchChannelHistoryRange(ctx context.Context, channelID, oldest, latest string, limit int) ([]models.RawMessage, error) {
	limit = min(max(limit, 1), maxHistory)
	var resp *slack.GetConversationHistoryResponse
	err := p.call(ctx, ratelimit.EndpointConversationsHistory, func(ctx context.Context) error {
		var err error
		resp, err = p.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
			Oldest:    oldest,
			Latest:    latest,
			Inclusive: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.RawMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, toRaw(m))
	}
	return out, nil
}

// PostMessage replies in the thread with link unfurling disabled and
// returns the new message's timestamp.
func (p *Platform) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	var ts string
	err := p.call(ctx, ratelimit.EndpointChatPostMessage, func(ctx context.Context) error {
		var err error
		_, ts, err = p.api.PostMessageContext(ctx, channelID, opts...)
		return err
	})
	return ts, err
}

// UserInfo describes a Slack user.
type UserInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RealName    string `json:"real_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsBot       bool   `json:"is_bot"`
}

// GetUserInfo looks up a user.
func (p *Platform) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	var u *slack.User
	err := p.call(ctx, ratelimit.EndpointUsersInfo, func(ctx context.Context) error {
		var err error
		u, err = p.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &UserInfo{
		ID:          u.ID,
		Name:        u.Name,
		RealName:    u.RealName,
		DisplayName: u.Profile.DisplayName,
		IsBot:       u.IsBot,
	}, nil
}

// UserDisplayName returns the best available name for userID.
func (p *Platform) UserDisplayName(ctx context.Context, userID string) (string, error) {
	u, err := p.GetUserInfo(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, name := range []string{u.DisplayName, u.RealName, u.Name} {
		if strings.TrimSpace(name) != "" {
			return name, nil
		}
	}
	return userID, nil
}

// ChannelInfo describes a conversation.
type ChannelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Topic     string `json:"topic,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	IsPrivate bool   `json:"is_private"`
	Members   int    `json:"member_count"`
}

// GetChannelInfo looks up a conversation. Failures are logged and yield a
// stub with only the id set.
func (p *Platform) GetChannelInfo(ctx context.Context, channelID string) *ChannelInfo {
	var ch *slack.Channel
	err := p.call(ctx, ratelimit.EndpointConversationsInfo, func(ctx context.Context) error {
		var err error
		ch, err = p.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
			ChannelID:         channelID,
			IncludeNumMembers: true,
		})
		return err
	})
	if err != nil || ch == nil {
		p.logger.Debug("channel lookup failed", "channel", channelID, "error", err)
		return &ChannelInfo{ID: channelID}
	}
	return &ChannelInfo{
		ID:        channelID,
		Name:      ch.Name,
		Topic:     ch.Topic.Value,
		Purpose:   ch.Purpose.Value,
		IsPrivate: ch.IsPrivate,
		Members:   ch.NumMembers,
	}
}

// Limits returns the limiter registry, for status reporting.
func (p *Platform) Limits() *ratelimit.Registry { return p.limits }

func toRaw(m slack.Message) models.RawMessage {
	return models.RawMessage{
		Text:     m.Text,
		User:     m.User,
		TS:       m.Timestamp,
		ThreadTS: m.ThreadTimestamp,
		BotID:    m.BotID,
		Subtype:  m.SubType,
		Username: m.Username,
	}
}
