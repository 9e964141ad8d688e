// Package slack connects threadwise to a Slack workspace: Web API reads and
// writes behind the rate limiter, and the Socket Mode event loop.
package slack

import (
	"context"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/threadwise/internal/fault"
)

// Token prefixes.
const (
	BotTokenPrefix = "xoxb-"
	AppTokenPrefix = "xapp-"
)

// Config holds the credentials of the Slack app.
type Config struct {
	BotToken string // xoxb- token for Web API calls
	AppToken string // xapp- token for Socket Mode
	Debug    bool
}

// Validate checks the token formats.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.BotToken, BotTokenPrefix) {
		return fault.New(fault.KindConfiguration, "slack bot token must start with %s", BotTokenPrefix)
	}
	if !strings.HasPrefix(c.AppToken, AppTokenPrefix) {
		return fault.New(fault.KindConfiguration, "slack app token must start with %s", AppTokenPrefix)
	}
	return nil
}

// SlackAPIClient is the slice of the Web API threadwise uses.
type SlackAPIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

// SocketModeClient is the slice of the Socket Mode client the adapter uses.
type SocketModeClient interface {
	RunContext(ctx context.Context) error
	Ack(req socketmode.Request, payload ...any)
	Events() <-chan socketmode.Event
}

var _ SlackAPIClient = (*slack.Client)(nil)

// socketClient exposes the Events field of *socketmode.Client as a method.
type socketClient struct {
	client *socketmode.Client
}

func (s socketClient) RunContext(ctx context.Context) error { return s.client.RunContext(ctx) }

func (s socketClient) Ack(req socketmode.Request, payload ...any) { s.client.Ack(req, payload...) }

func (s socketClient) Events() <-chan socketmode.Event { return s.client.Events }

// NewClients builds the Web API and Socket Mode clients for cfg.
func NewClients(cfg Config) (*slack.Client, SocketModeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
		slack.OptionDebug(cfg.Debug),
	)
	socket := socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
	return api, socketClient{client: socket}, nil
}

// MockSlackClient is a test double for SlackAPIClient. Unset funcs return
// canned data.
type MockSlackClient struct {
	AuthTestContextFunc               func(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContextFunc            func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationRepliesContextFunc func(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetConversationHistoryContextFunc func(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContextFunc            func(ctx context.Context, userID string) (*slack.User, error)
	GetConversationInfoCtxFn          func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

func (m *MockSlackClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestContextFunc != nil {
		return m.AuthTestContextFunc(ctx)
	}
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "TestTeam", BotID: "BBOT"}, nil
}

func (m *MockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageContextFunc != nil {
		return m.PostMessageContextFunc(ctx, channelID, options...)
	}
	return channelID, "1234567890.123456", nil
}

func (m *MockSlackClient) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	if m.GetConversationRepliesContextFunc != nil {
		return m.GetConversationRepliesContextFunc(ctx, params)
	}
	return nil, false, "", nil
}

func (m *MockSlackClient) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if m.GetConversationHistoryContextFunc != nil {
		return m.GetConversationHistoryContextFunc(ctx, params)
	}
	return &slack.GetConversationHistoryResponse{}, nil
}

func (m *MockSlackClient) GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error) {
	if m.GetUserInfoContextFunc != nil {
		return m.GetUserInfoContextFunc(ctx, userID)
	}
	return &slack.User{ID: userID, Name: "testuser"}, nil
}

func (m *MockSlackClient) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if m.GetConversationInfoCtxFn != nil {
		return m.GetConversationInfoCtxFn(ctx, input)
	}
	return &slack.Channel{GroupConversation: slack.GroupConversation{Name: "test-channel"}}, nil
}

// MockSocketModeClient is a test double for SocketModeClient.
type MockSocketModeClient struct {
	RunFunc    func(ctx context.Context) error
	AckFunc    func(req socketmode.Request, payload ...any)
	EventsChan chan socketmode.Event
}

// NewMockSocketModeClient creates a mock with a buffered event channel.
func NewMockSocketModeClient() *MockSocketModeClient {
	return &MockSocketModeClient{EventsChan: make(chan socketmode.Event, 100)}
}

func (m *MockSocketModeClient) RunContext(ctx context.Context) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *MockSocketModeClient) Ack(req socketmode.Request, payload ...any) {
	if m.AckFunc != nil {
		m.AckFunc(req, payload...)
	}
}

func (m *MockSocketModeClient) Events() <-chan socketmode.Event {
	return m.EventsChan
}
