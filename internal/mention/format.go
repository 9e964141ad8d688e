package mention

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/threadwise/internal/fault"
)

const (
	// MaxReplyLength is the longest reply posted to Slack.
	MaxReplyLength = 2000

	emptyReply = "I'm not sure how to respond to that. Could you rephrase your question?"
)

// Fallback replies posted when a mention cannot be answered.
const (
	FallbackContext   = "I'm having trouble understanding the conversation context. Could you try rephrasing your question?"
	FallbackRateLimit = "I'm a bit busy right now! Please try again in a moment."
	FallbackAIService = "My AI brain is currently unavailable. Please try again later!"
	FallbackGeneric   = "Something went wrong! Please try again. If the problem persists, contact support."
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	skipped    = map[string]bool{
		"bot_message":     true,
		"message_changed": true,
		"message_deleted": true,
	}
)

// ShouldProcess reports whether ev is a mention of botID that deserves a reply.
func ShouldProcess(ev Event, botID string) bool {
	if strings.TrimSpace(ev.Text) == "" {
		return false
	}
	if botID == "" || ev.User == botID {
		return false
	}
	if !mentions(ev.Text, botID) {
		return false
	}
	return !skipped[ev.Subtype]
}

func mentions(text, botID string) bool {
	return strings.Contains(text, "<@"+botID+">") || strings.Contains(text, "<@"+botID+"|")
}

// ExtractUserMessage removes mentions of botID and collapses whitespace.
func ExtractUserMessage(text, botID string) string {
	if botID != "" {
		re := regexp.MustCompile(`<@` + regexp.QuoteMeta(botID) + `(?:\|[^>]+)?>`)
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// FormatReply trims the reply, substitutes a prompt for an empty one and
// truncates it to MaxReplyLength runes.
func FormatReply(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyReply
	}
	runes := []rune(text)
	if len(runes) > MaxReplyLength {
		return string(runes[:MaxReplyLength-3]) + "..."
	}
	return text
}

// FallbackFor picks the reply posted for a failed mention.
func FallbackFor(err error) string {
	switch fault.KindOf(err) {
	case fault.KindContextAnalysis:
		return FallbackContext
	case fault.KindRateLimit:
		return FallbackRateLimit
	case fault.KindAIService:
		return FallbackAIService
	default:
		return FallbackGeneric
	}
}
