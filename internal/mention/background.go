package mention

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/threadwise/internal/history"
	"github.com/haasonsaas/threadwise/internal/intent"
	"github.com/haasonsaas/threadwise/internal/tools"
	"github.com/haasonsaas/threadwise/pkg/models"
)

const (
	// backgroundHours bounds the cached channel history read per mention.
	backgroundHours = 24
	// backgroundNotes caps the channel messages quoted in the prompt.
	backgroundNotes = 5
	// maxBackground caps the rendered background in the prompt.
	maxBackground = 800
)

// background is what the history cache knows around a thread.
type background struct {
	window  history.Window
	leadIn  []history.Message
	earlier string
}

// loadBackground reads the channel's recent window, the messages from the
// hour before the thread started and a summary of anything older than the
// window.
func (h *Handler) loadBackground(channelID, threadTS string) background {
	c := h.deps.History
	if c == nil {
		return background{}
	}
	bg := background{window: c.GetContextWindow(channelID, backgroundHours, true)}
	for _, m := range c.GetThreadContext(channelID, threadTS, true) {
		if !inThread(m, threadTS) {
			bg.leadIn = append(bg.leadIn, m)
		}
	}
	bg.earlier, _ = c.SummarizeOldContext(channelID, h.nowFunc().Add(-backgroundHours*time.Hour))
	return bg
}

func inThread(m history.Message, threadTS string) bool {
	return m.TS == threadTS || m.ThreadTS == threadTS
}

// render lists channel activity outside the thread, oldest first.
func (b background) render(threadTS string) string {
	var lines []string
	seen := make(map[string]bool)
	note := func(m history.Message) {
		seen[m.TS] = true
		lines = append(lines, fmt.Sprintf("- <@%s>: %s", m.UserID, clip(m.Text, 150)))
	}

	if b.earlier != "" {
		lines = append(lines, "- Earlier: "+clip(b.earlier, 200))
	}
	for _, s := range b.window.Summaries {
		if s.Kind != history.KindBot {
			lines = append(lines, fmt.Sprintf("- <@%s> (summary): %s", s.UserID, s.ContentSummary))
		}
	}
	for _, m := range b.leadIn {
		note(m)
	}
	var recent []history.Message
	for _, m := range b.window.Messages {
		if !inThread(m, threadTS) && !seen[m.TS] {
			recent = append(recent, m)
		}
	}
	if len(recent) > backgroundNotes {
		recent = recent[len(recent)-backgroundNotes:]
	}
	for _, m := range recent {
		note(m)
	}
	return clip(strings.Join(lines, "\n"), maxBackground)
}

// contextParams fills in tool parameters the request left implicit. A time
// reference becomes an oldest/latest range for fetching, and without an
// explicit count the limit grows to cover a busy channel's recent window.
func contextParams(requested models.Params, window history.Window, now time.Time) models.Params {
	out := models.Params{}
	if ref, ok := requested[intent.ParamTimeReference].AsString(); ok {
		if from, to, ok := intent.TimeRange(ref, now); ok {
			out["oldest"] = models.String(models.FormatTS(from))
			out["latest"] = models.String(models.FormatTS(to))
		}
	}
	if _, ok := requested[intent.ParamMessageCount]; !ok && len(window.Messages) > tools.DefaultLimit {
		out["limit"] = models.Int(min(len(window.Messages), intent.MaxMessageCount))
	}
	return out
}
