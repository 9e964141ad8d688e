// Package history keeps a bounded, importance-aware record of recent channel
// traffic so replies can draw on more than the current thread.
package history

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

const (
	// DefaultCapacity is the per-channel ring size.
	DefaultCapacity = 100
	// DefaultMaxTokens is the token budget of a context window.
	DefaultMaxTokens = 8000
	// ImportanceThreshold is the score above which evicted messages are summarized.
	ImportanceThreshold = 0.3
	// MaxSummaryChars caps a MessageSummary's content.
	MaxSummaryChars = 100
	// DefaultKeepHours is the retention used by ClearOldHistory.
	DefaultKeepHours = 48

	perMessageTokens = 20
)

// Kind classifies who wrote a history entry.
type Kind string

const (
	KindUser    Kind = "user"
	KindBot     Kind = "bot"
	KindSystem  Kind = "system"
	KindSummary Kind = "summary"
)

// Message is a single channel message tracked by the cache.
type Message struct {
	TS       string
	UserID   string
	Text     string
	ThreadTS string
	Kind     Kind
	// Time defaults to the parsed TS.
	Time time.Time
}

// FromRaw converts a platform payload into a history message.
func FromRaw(raw models.RawMessage) Message {
	kind := KindUser
	switch {
	case raw.BotID != "" || raw.Subtype == "bot_message":
		kind = KindBot
	case raw.User == "":
		kind = KindSystem
	}
	userID := raw.User
	if userID == "" {
		userID = raw.BotID
	}
	return Message{TS: raw.TS, UserID: userID, Text: raw.Text, ThreadTS: raw.ThreadTS, Kind: kind}
}

// MessageSummary is the compact record left behind by an evicted message.
type MessageSummary struct {
	Timestamp      string  `json:"timestamp"`
	UserID         string  `json:"user_id"`
	ContentSummary string  `json:"content_summary"`
	Importance     float64 `json:"importance"`
	Kind           Kind    `json:"kind"`
	ThreadContext  bool    `json:"thread_context"`
}

// Window is the result of GetContextWindow.
type Window struct {
	Messages         []Message
	Summaries        []MessageSummary
	TotalTokens      int
	Start            time.Time
	End              time.Time
	ContextPreserved bool
}

// Stats describes one channel's history.
type Stats struct {
	Channel           string    `json:"channel"`
	TotalMessages     int       `json:"total_messages"`
	Summaries         int       `json:"summaries"`
	UserMessages      int       `json:"user_messages"`
	BotMessages       int       `json:"bot_messages"`
	EstimatedTokens   int       `json:"estimated_tokens"`
	Oldest            time.Time `json:"oldest,omitempty"`
	Newest            time.Time `json:"newest,omitempty"`
	AverageImportance float64   `json:"average_importance"`
}

// Config configures a Cache.
type Config struct {
	Capacity    int
	MaxMessages int
	MaxTokens   int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		Capacity:    DefaultCapacity,
		MaxMessages: DefaultCapacity,
		MaxTokens:   DefaultMaxTokens,
	}
}

type channelHistory struct {
	messages  []Message
	summaries []MessageSummary
}

// Cache is a thread-safe per-channel message history.
type Cache struct {
	mu       sync.RWMutex
	channels map[string]*channelHistory
	config   Config
	logger   *slog.Logger
	nowFunc  func() time.Time // For testing

	// Statistics
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// NewCache creates an empty cache.
func NewCache(config Config, opts ...Option) *Cache {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = config.Capacity
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	c := &Cache{
		channels: make(map[string]*channelHistory),
		config:   config,
		logger:   slog.Default().With("component", "history"),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddMessage appends msg to the channel's ring, dropping the oldest entry when full.
func (c *Cache) AddMessage(channelID string, msg Message) {
	if channelID == "" || msg.TS == "" {
		return
	}
	if msg.Time.IsZero() {
		if t, err := models.ParseTS(msg.TS); err == nil {
			msg.Time = t
		} else {
			msg.Time = c.nowFunc()
		}
	}
	if msg.Kind == "" {
		msg.Kind = KindUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.channels[channelID]
	if !ok {
		h = &channelHistory{}
		c.channels[channelID] = h
	}
	h.messages = append(h.messages, msg)
	if over := len(h.messages) - c.config.Capacity; over > 0 {
		h.messages = append(h.messages[:0:0], h.messages[over:]...)
	}
}

// GetContextWindow returns the channel's recent messages fitted to the token
// budget. maxAgeHours <= 0 disables the age filter. When the messages fit they
// are returned unchanged; otherwise the most important (or, with
// preserveImportant false, the most recent) are kept and the rest are
// summarized.
func (c *Cache) GetContextWindow(channelID string, maxAgeHours int, preserveImportant bool) Window {
	now := c.nowFunc()

	c.mu.RLock()
	var msgs []Message
	if h, ok := c.channels[channelID]; ok {
		msgs = make([]Message, 0, len(h.messages))
		for _, m := range h.messages {
			if maxAgeHours > 0 && now.Sub(m.Time) > time.Duration(maxAgeHours)*time.Hour {
				continue
			}
			msgs = append(msgs, m)
		}
	}
	c.mu.RUnlock()

	if len(msgs) == 0 {
		c.misses.Add(1)
		return Window{Start: now, End: now}
	}

	tokens := estimateTokens(msgs)
	if len(msgs) <= c.config.MaxMessages && tokens <= c.config.MaxTokens {
		c.hits.Add(1)
		return Window{
			Messages:         msgs,
			TotalTokens:      tokens,
			Start:            msgs[0].Time,
			End:              msgs[len(msgs)-1].Time,
			ContextPreserved: true,
		}
	}

	c.misses.Add(1)
	w := c.optimize(msgs, preserveImportant, now)
	c.logger.Debug("optimized context window",
		"channel", channelID,
		"candidates", len(msgs),
		"kept", len(w.Messages),
		"summaries", len(w.Summaries),
		"tokens", w.TotalTokens)
	return w
}

type scored struct {
	msg        Message
	importance float64
	tokens     int
	index      int
}

func (c *Cache) optimize(msgs []Message, preserveImportant bool, now time.Time) Window {
	candidates := make([]scored, len(msgs))
	for i, m := range msgs {
		candidates[i] = scored{
			msg:        m,
			importance: Importance(m, now),
			tokens:     estimateTokens(msgs[i : i+1]),
			index:      i,
		}
	}

	order := make([]scored, len(candidates))
	copy(order, candidates)
	if preserveImportant {
		sort.SliceStable(order, func(i, j int) bool { return order[i].importance > order[j].importance })
	} else {
		sort.SliceStable(order, func(i, j int) bool { return order[i].msg.Time.After(order[j].msg.Time) })
	}

	maxTokens := c.config.MaxTokens
	kept := make(map[int]bool)
	cur := 0
	for _, s := range order {
		if len(kept) >= c.config.MaxMessages {
			break
		}
		if cur+s.tokens <= maxTokens || (s.importance > 0.8 && cur < maxTokens/2) {
			kept[s.index] = true
			cur += s.tokens
		}
	}

	w := Window{TotalTokens: cur}
	for _, s := range candidates {
		if kept[s.index] {
			w.Messages = append(w.Messages, s.msg)
			continue
		}
		if s.importance > ImportanceThreshold {
			w.Summaries = append(w.Summaries, summarize(s.msg, s.importance))
		}
	}
	sort.SliceStable(w.Messages, func(i, j int) bool { return w.Messages[i].Time.Before(w.Messages[j].Time) })
	if len(w.Messages) > 0 {
		w.Start = w.Messages[0].Time
		w.End = w.Messages[len(w.Messages)-1].Time
	} else {
		w.Start, w.End = now, now
	}
	w.ContextPreserved = len(w.Summaries) > 0
	return w
}

// GetThreadContext returns a thread's messages sorted by timestamp. With
// includeContext, up to 10 channel messages from the hour before the thread
// started are included too.
func (c *Cache) GetThreadContext(channelID, threadTS string, includeContext bool) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.channels[channelID]
	if !ok {
		return nil
	}

	var thread []Message
	for _, m := range h.messages {
		if m.ThreadTS == threadTS || m.TS == threadTS {
			thread = append(thread, m)
		}
	}

	if includeContext {
		if start, err := models.ParseTS(threadTS); err == nil {
			from := start.Add(-time.Hour)
			var before []Message
			for _, m := range h.messages {
				if m.ThreadTS == threadTS || m.TS == threadTS {
					continue
				}
				if !m.Time.Before(from) && m.Time.Before(start) {
					before = append(before, m)
				}
			}
			if len(before) > 10 {
				before = before[len(before)-10:]
			}
			thread = append(thread, before...)
		}
	}

	sort.SliceStable(thread, func(i, j int) bool { return thread[i].Time.Before(thread[j].Time) })
	return thread
}

// ClearOldHistory drops messages older than keepHours (48 when <= 0). With
// preserveSummaries a single system summary of the dropped messages is kept.
// It returns the number of messages removed.
func (c *Cache) ClearOldHistory(channelID string, keepHours int, preserveSummaries bool) int {
	if keepHours <= 0 {
		keepHours = DefaultKeepHours
	}
	cutoff := c.nowFunc().Add(-time.Duration(keepHours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.channels[channelID]
	if !ok {
		return 0
	}

	var old, keep []Message
	for _, m := range h.messages {
		if m.Time.Before(cutoff) {
			old = append(old, m)
		} else {
			keep = append(keep, m)
		}
	}
	if len(old) == 0 {
		return 0
	}

	if preserveSummaries {
		if text, ok := summarizeMessages(old); ok {
			h.summaries = append(h.summaries, MessageSummary{
				Timestamp:      models.FormatTS(cutoff),
				UserID:         "system",
				ContentSummary: text,
				Importance:     0.8,
				Kind:           KindSummary,
			})
		}
	}
	h.messages = keep
	c.logger.Info("cleared old history", "channel", channelID, "removed", len(old), "kept", len(keep))
	return len(old)
}

// SummarizeOldContext summarizes the channel's messages older than before. It
// reports false when there is nothing worth summarizing.
func (c *Cache) SummarizeOldContext(channelID string, before time.Time) (string, bool) {
	c.mu.RLock()
	h, ok := c.channels[channelID]
	var old []Message
	if ok {
		for _, m := range h.messages {
			if m.Time.Before(before) {
				old = append(old, m)
			}
		}
	}
	c.mu.RUnlock()

	if len(old) == 0 {
		return "", false
	}
	return summarizeMessages(old)
}

// Summaries returns the summaries kept by ClearOldHistory.
func (c *Cache) Summaries(channelID string) []MessageSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.channels[channelID]
	if !ok {
		return nil
	}
	return append([]MessageSummary(nil), h.summaries...)
}

// Stats reports on a channel's history.
func (c *Cache) Stats(channelID string) Stats {
	now := c.nowFunc()

	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Stats{Channel: channelID}
	h, ok := c.channels[channelID]
	if !ok {
		return st
	}
	st.TotalMessages = len(h.messages)
	st.Summaries = len(h.summaries)
	st.EstimatedTokens = estimateTokens(h.messages)

	var total float64
	for _, m := range h.messages {
		switch m.Kind {
		case KindUser:
			st.UserMessages++
		case KindBot:
			st.BotMessages++
		}
		if st.Oldest.IsZero() || m.Time.Before(st.Oldest) {
			st.Oldest = m.Time
		}
		if m.Time.After(st.Newest) {
			st.Newest = m.Time
		}
		total += Importance(m, now)
	}
	if len(h.messages) > 0 {
		st.AverageImportance = total / float64(len(h.messages))
	}
	return st
}

// Channels lists the tracked channels in sorted order.
func (c *Cache) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for id := range c.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Hits returns the number of windows served without eviction.
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of windows that needed eviction or were empty.
func (c *Cache) Misses() uint64 { return c.misses.Load() }

func estimateTokens(msgs []Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Text)
	}
	return chars/4 + perMessageTokens*len(msgs)
}
