package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/threadwise/internal/mention"
	"github.com/haasonsaas/threadwise/internal/observability"
)

// DefaultMentionTimeout bounds the handling of one mention.
const DefaultMentionTimeout = 2 * time.Minute

// Handler receives the events the adapter dispatches. *mention.Handler
// implements it.
type Handler interface {
	HandleInboundMention(ctx context.Context, ev mention.Event) error
	RecordMessage(ev mention.Event)
	SetSelfID(id string)
}

// Status is the connection state reported by health checks.
type Status struct {
	Connected bool      `json:"connected"`
	BotUserID string    `json:"bot_user_id,omitempty"`
	LastEvent time.Time `json:"last_event,omitempty"`
	Error     string    `json:"error,omitempty"`
	InFlight  int64     `json:"in_flight"`
}

// Adapter runs the Socket Mode event loop and hands mentions to a Handler.
type Adapter struct {
	platform       *Platform
	socket         SocketModeClient
	handler        Handler
	logger         *slog.Logger
	mentionTimeout time.Duration
	nowFunc        func() time.Time // For testing

	status   Status
	statusMu sync.RWMutex
	inFlight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the logger.
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMentionTimeout overrides DefaultMentionTimeout.
func WithMentionTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.mentionTimeout = d
		}
	}
}

// NewAdapter creates an adapter over platform and socket.
func NewAdapter(platform *Platform, socket SocketModeClient, handler Handler, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		platform:       platform,
		socket:         socket,
		handler:        handler,
		logger:         slog.Default().With("component", "slack-adapter"),
		mentionTimeout: DefaultMentionTimeout,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start authenticates and begins consuming Socket Mode events.
func (a *Adapter) Start(ctx context.Context) error {
	botUserID, err := a.platform.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate with Slack: %w", err)
	}
	a.handler.SetSelfID(botUserID)
	a.statusMu.Lock()
	a.status.BotUserID = botUserID
	a.statusMu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.handleEvents()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(a.ctx); err != nil && a.ctx.Err() == nil {
			a.updateStatus(false, fmt.Sprintf("socket mode error: %v", err))
			a.logger.Error("socket mode stopped", "error", err)
		}
	}()

	a.logger.Info("slack adapter started", "bot_user_id", botUserID)
	return nil
}

// Stop cancels the event loop and waits for in-flight mentions to finish or
// ctx to expire.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.updateStatus(false, "")
		return nil
	case <-ctx.Done():
		a.updateStatus(false, "shutdown timeout")
		return ctx.Err()
	}
}

// Status returns the current connection status.
func (a *Adapter) Status() Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	st := a.status
	st.InFlight = a.inFlight.Load()
	return st
}

func (a *Adapter) handleEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.socket.Events():
			if !ok {
				return
			}
			a.statusMu.Lock()
			a.status.LastEvent = a.nowFunc()
			a.statusMu.Unlock()

			switch event.Type {
			case socketmode.EventTypeConnecting:
				a.logger.Info("connecting to socket mode")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", event.Data)
				a.updateStatus(false, "connection error")
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to socket mode")
				a.updateStatus(true, "")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				a.ack(event)
			}
		}
	}
}

func (a *Adapter) ack(event socketmode.Event) {
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	a.ack(event)

	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.logger.Warn("unexpected events api payload", "type", fmt.Sprintf("%T", event.Data))
		return
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		var envelope string
		if event.Request != nil {
			envelope = event.Request.EnvelopeID
		}
		a.dispatch(envelope, mention.Event{
			Channel:  ev.Channel,
			User:     ev.User,
			Text:     ev.Text,
			TS:       ev.TimeStamp,
			ThreadTS: ev.ThreadTimeStamp,
			BotID:    ev.BotID,
		})
	case *slackevents.MessageEvent:
		// Mentions also arrive as app_mention and are recorded by the handler.
		if ev.BotID != "" || ev.SubType != "" || a.mentionsSelf(ev.Text) {
			return
		}
		a.handler.RecordMessage(mention.Event{
			Channel:  ev.Channel,
			User:     ev.User,
			Text:     ev.Text,
			TS:       ev.TimeStamp,
			ThreadTS: ev.ThreadTimeStamp,
		})
	}
}

// dispatch handles ev on its own goroutine under the envelope id as request
// id. The handler keeps running after Stop cancels the loop so the reply can
// still be posted.
func (a *Adapter) dispatch(envelopeID string, ev mention.Event) {
	a.wg.Add(1)
	a.inFlight.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.inFlight.Add(-1)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), a.mentionTimeout)
		defer cancel()
		if envelopeID != "" {
			ctx = observability.AddRequestID(ctx, envelopeID)
		}
		if err := a.handler.HandleInboundMention(ctx, ev); err != nil {
			a.logger.DebugContext(ctx, "mention finished with error", "channel", ev.Channel, "ts", ev.TS, "error", err)
		}
	}()
}

func (a *Adapter) mentionsSelf(text string) bool {
	id := a.platform.BotUserID()
	return id != "" && strings.Contains(text, "<@"+id)
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
}
