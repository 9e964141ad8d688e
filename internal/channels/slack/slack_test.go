package slack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/internal/mention"
	"github.com/haasonsaas/threadwise/internal/observability"
	"github.com/haasonsaas/threadwise/internal/ratelimit"
)

func msg(user, text, ts string) slack.Message {
	return slack.Message{Msg: slack.Msg{User: user, Text: text, Timestamp: ts}}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BotToken: "xoxb-1", AppToken: "xapp-1"}, false},
		{"missing bot token", Config{AppToken: "xapp-1"}, true},
		{"missing app token", Config{BotToken: "xoxb-1"}, true},
		{"user token", Config{BotToken: "xoxp-1", AppToken: "xapp-1"}, true},
		{"swapped tokens", Config{BotToken: "xapp-1", AppToken: "xoxb-1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !fault.IsKind(err, fault.KindConfiguration) {
				t.Fatalf("expected configuration fault, got %v", err)
			}
		})
	}
}

func TestPlatform_FetchThreadMessagesPaginates(t *testing.T) {
	var cursors []string
	api := &MockSlackClient{
		GetConversationRepliesContextFunc: func(ctx context.Context, p *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
			cursors = append(cursors, p.Cursor)
			if p.ChannelID != "C1" || p.Timestamp != "100.0" {
				t.Errorf("unexpected params %+v", p)
			}
			if p.Cursor == "" {
				return []slack.Message{msg("U1", "root", "100.0"), msg("U2", "first", "101.0")}, true, "next", nil
			}
			return []slack.Message{msg("U1", "second", "102.0")}, false, "", nil
		},
	}
	p := NewPlatform(api, nil)

	got, err := p.FetchThreadMessages(context.Background(), "C1", "100.0")
	if err != nil {
		t.Fatalf("FetchThreadMessages: %v", err)
	}
	if len(got) != 3 || got[2].Text != "second" || got[0].TS != "100.0" {
		t.Fatalf("messages = %+v", got)
	}
	if len(cursors) != 2 || cursors[1] != "next" {
		t.Fatalf("cursors = %v", cursors)
	}
}

func TestPlatform_FetchThreadMessagesCapsPages(t *testing.T) {
	calls := 0
	api := &MockSlackClient{
		GetConversationRepliesContextFunc: func(ctx context.Context, p *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
			calls++
			page := make([]slack.Message, repliesPageSize)
			for i := range page {
				page[i] = msg("U1", "x", fmt.Sprintf("%d.%d", calls, i))
			}
			return page, true, fmt.Sprintf("c%d", calls), nil
		},
	}
	p := NewPlatform(api, nil)

	got, err := p.FetchThreadMessages(context.Background(), "C1", "1.0")
	if err != nil {
		t.Fatalf("FetchThreadMessages: %v", err)
	}
	if len(got) != maxReplies || calls != maxReplies/repliesPageSize {
		t.Fatalf("got %d messages in %d calls", len(got), calls)
	}
}

func TestPlatform_FetchChannelHistoryClampsLimit(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 1},
		{25, 25},
		{500, maxHistory},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.limit), func(t *testing.T) {
			var gotLimit int
			api := &MockSlackClient{
				GetConversationHistoryContextFunc: func(ctx context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
					gotLimit = p.Limit
					return &slack.GetConversationHistoryResponse{Messages: []slack.Message{msg("U2", "newest", "2.0"), msg("U1", "older", "1.0")}}, nil
				},
			}
			got, err := NewPlatform(api, nil).FetchChannelHistory(context.Background(), "C1", tt.limit)
			if err != nil {
				t.Fatalf("FetchChannelHistory: %v", err)
			}
			if gotLimit != tt.want {
				t.Fatalf("limit = %d, want %d", gotLimit, tt.want)
			}
			if got[0].Text != "newest" {
				t.Fatalf("history should stay newest first: %+v", got)
			}
		})
	}
}

func TestPlatform_FetchChannelHistoryRange(t *testing.T) {
	var got *slack.GetConversationHistoryParameters
	api := &MockSlackClient{
		GetConversationHistoryContextFunc: func(ctx context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
			got = p
			return &slack.GetConversationHistoryResponse{}, nil
		},
	}
	if _, err := NewPlatform(api, nil).FetchChannelHistoryRange(context.Background(), "C1", "1700000000.000000", "1700086400.000000", 20); err != nil {
		t.Fatalf("FetchChannelHistoryRange: %v", err)
	}
	if got.Oldest != "1700000000.000000" || got.Latest != "1700086400.000000" || got.Limit != 20 {
		t.Fatalf("params = %+v", got)
	}
}

func TestPlatform_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"rate limited", &slack.RateLimitedError{RetryAfter: 3 * time.Second}, fault.KindRateLimit},
		{"not in channel", slack.SlackErrorResponse{Err: "not_in_channel"}, fault.KindPermission},
		{"bad auth", slack.SlackErrorResponse{Err: "invalid_auth"}, fault.KindAuthentication},
		{"other", errors.New("boom"), fault.KindDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockSlackClient{
				PostMessageContextFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
					return "", "", tt.err
				},
			}
			_, err := NewPlatform(api, nil).PostMessage(context.Background(), "C1", "1.0", "hi")
			if !fault.IsKind(err, tt.want) {
				t.Fatalf("error = %v, want kind %s", err, tt.want)
			}
		})
	}
}

func TestPlatform_CircuitOpensAfterFailures(t *testing.T) {
	calls := 0
	api := &MockSlackClient{
		GetConversationHistoryContextFunc: func(ctx context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
			calls++
			return nil, errors.New("upstream down")
		},
	}
	limits := ratelimit.NewRegistry(map[string]ratelimit.Config{
		ratelimit.EndpointConversationsHistory: {FailureThreshold: 2, Timeout: time.Minute},
	})
	p := NewPlatform(api, limits)

	for i := 0; i < 2; i++ {
		if _, err := p.FetchChannelHistory(context.Background(), "C1", 10); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := p.FetchChannelHistory(context.Background(), "C1", 10)
	if !fault.IsKind(err, fault.KindRateLimit) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("api called %d times, want 2", calls)
	}
}

func TestPlatform_PostMessage(t *testing.T) {
	var channel string
	var nopts int
	api := &MockSlackClient{
		PostMessageContextFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
			channel, nopts = channelID, len(options)
			return channelID, "200.5", nil
		},
	}
	ts, err := NewPlatform(api, nil).PostMessage(context.Background(), "C9", "100.0", "hello")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts != "200.5" || channel != "C9" {
		t.Fatalf("ts=%q channel=%q", ts, channel)
	}
	if nopts != 3 {
		t.Fatalf("expected text, unfurl and thread options, got %d", nopts)
	}
}

func TestPlatform_UserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user slack.User
		want string
	}{
		{"display name", slack.User{ID: "U1", Name: "ann", RealName: "Ann Lee", Profile: slack.UserProfile{DisplayName: "annie"}}, "annie"},
		{"real name", slack.User{ID: "U1", Name: "ann", RealName: "Ann Lee"}, "Ann Lee"},
		{"handle", slack.User{ID: "U1", Name: "ann"}, "ann"},
		{"nothing", slack.User{ID: "U1"}, "U1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockSlackClient{
				GetUserInfoContextFunc: func(ctx context.Context, userID string) (*slack.User, error) {
					u := tt.user
					return &u, nil
				},
			}
			got, err := NewPlatform(api, nil).UserDisplayName(context.Background(), "U1")
			if err != nil {
				t.Fatalf("UserDisplayName: %v", err)
			}
			if got != tt.want {
				t.Fatalf("name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlatform_GetChannelInfoBestEffort(t *testing.T) {
	api := &MockSlackClient{
		GetConversationInfoCtxFn: func(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
			return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
		},
	}
	info := NewPlatform(api, nil).GetChannelInfo(context.Background(), "C404")
	if info == nil || info.ID != "C404" || info.Name != "" {
		t.Fatalf("info = %+v", info)
	}
}

type fakeHandler struct {
	mu       sync.Mutex
	selfID     string
	mentions   []mention.Event
	requestIDs []string
	recorded []mention.Event
	done     chan struct{}
	block    chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{done: make(chan struct{}, 10)}
}

func (f *fakeHandler) HandleInboundMention(ctx context.Context, ev mention.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.mentions = append(f.mentions, ev)
	f.requestIDs = append(f.requestIDs, observability.GetRequestID(ctx))
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeHandler) RecordMessage(ev mention.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, ev)
}

func (f *fakeHandler) SetSelfID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selfID = id
}

func callbackEvent(envelope string, inner any) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: inner},
		},
		Request: &socketmode.Request{EnvelopeID: envelope},
	}
}

func startAdapter(t *testing.T, handler *fakeHandler) (*Adapter, *MockSocketModeClient, *[]string, *sync.Mutex) {
	t.Helper()
	socket := NewMockSocketModeClient()
	var (
		mu    sync.Mutex
		acked []string
	)
	socket.AckFunc = func(req socketmode.Request, payload ...any) {
		mu.Lock()
		defer mu.Unlock()
		acked = append(acked, req.EnvelopeID)
	}
	a := NewAdapter(NewPlatform(&MockSlackClient{}, nil), socket, handler)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a, socket, &acked, &mu
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestAdapter_DispatchesMentions(t *testing.T) {
	handler := newFakeHandler()
	a, socket, acked, mu := startAdapter(t, handler)

	if handler.selfID != "UBOT" || a.Status().BotUserID != "UBOT" {
		t.Fatalf("self id = %q", handler.selfID)
	}

	socket.EventsChan <- socketmode.Event{Type: socketmode.EventTypeConnected}
	socket.EventsChan <- callbackEvent("e1", &slackevents.AppMentionEvent{
		User:            "U1",
		Channel:         "C1",
		Text:            "<@UBOT> summarize",
		TimeStamp:       "101.0",
		ThreadTimeStamp: "100.0",
	})
	waitFor(t, handler.done)

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(handler.mentions) != 1 {
		t.Fatalf("mentions = %d", len(handler.mentions))
	}
	ev := handler.mentions[0]
	if ev.Channel != "C1" || ev.ThreadTS != "100.0" || ev.TS != "101.0" || ev.User != "U1" {
		t.Fatalf("event = %+v", ev)
	}
	if handler.requestIDs[0] != "e1" {
		t.Fatalf("request id = %q, want the envelope id", handler.requestIDs[0])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(*acked) != 1 || (*acked)[0] != "e1" {
		t.Fatalf("acked = %v", *acked)
	}
}

func TestAdapter_RecordsPlainMessages(t *testing.T) {
	handler := newFakeHandler()
	a, socket, acked, mu := startAdapter(t, handler)

	events := []*slackevents.MessageEvent{
		{User: "U1", Channel: "C1", Text: "plain message", TimeStamp: "1.0"},
		{User: "U1", Channel: "C1", Text: "<@UBOT> hi", TimeStamp: "2.0"},
		{BotID: "B1", Channel: "C1", Text: "from a bot", TimeStamp: "3.0"},
		{User: "U1", Channel: "C1", Text: "edited", TimeStamp: "4.0", SubType: "message_changed"},
	}
	for i, ev := range events {
		socket.EventsChan <- callbackEvent(fmt.Sprintf("m%d", i), ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(*acked)
		mu.Unlock()
		if n == len(events) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("acked %d of %d events", n, len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.recorded) != 1 || handler.recorded[0].Text != "plain message" {
		t.Fatalf("recorded = %+v", handler.recorded)
	}
	if len(handler.mentions) != 0 {
		t.Fatalf("plain messages must not be dispatched as mentions")
	}
}

func TestAdapter_StopWaitsForInFlightMentions(t *testing.T) {
	handler := newFakeHandler()
	handler.block = make(chan struct{})
	a, socket, acked, mu := startAdapter(t, handler)

	socket.EventsChan <- callbackEvent("e1", &slackevents.AppMentionEvent{User: "U1", Channel: "C1", Text: "<@UBOT> hi", TimeStamp: "1.0"})
	deadline := time.Now().Add(2 * time.Second)
	for a.Status().InFlight != 1 {
		if time.Now().After(deadline) {
			t.Fatal("mention never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if len(*acked) != 1 {
		t.Errorf("mention should be acked before it is handled")
	}
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop with a blocked mention = %v", err)
	}

	close(handler.block)
	waitFor(t, handler.done)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if a.Status().InFlight != 0 {
		t.Fatalf("in flight = %d", a.Status().InFlight)
	}
}

func TestAdapter_StartFailsWithoutAuth(t *testing.T) {
	api := &MockSlackClient{
		AuthTestContextFunc: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			return nil, slack.SlackErrorResponse{Err: "invalid_auth"}
		},
	}
	a := NewAdapter(NewPlatform(api, nil), NewMockSocketModeClient(), newFakeHandler())
	err := a.Start(context.Background())
	if !fault.IsKind(err, fault.KindAuthentication) {
		t.Fatalf("Start error = %v", err)
	}
}

func TestAdapter_ConnectionStatus(t *testing.T) {
	handler := newFakeHandler()
	a, socket, _, _ := startAdapter(t, handler)
	defer a.Stop(context.Background())

	socket.EventsChan <- socketmode.Event{Type: socketmode.EventTypeConnected}
	deadline := time.Now().Add(2 * time.Second)
	for !a.Status().Connected {
		if time.Now().After(deadline) {
			t.Fatal("adapter never reported connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	socket.EventsChan <- socketmode.Event{Type: socketmode.EventTypeConnectionError}
	for a.Status().Connected {
		if time.Now().After(deadline) {
			t.Fatal("adapter never reported the connection error")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if a.Status().Error != "connection error" {
		t.Fatalf("status = %+v", a.Status())
	}
}
