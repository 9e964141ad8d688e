package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haasonsaas/threadwise/pkg/models"
)

const topParticipants = 3

type keywordBucket struct {
	label    string
	keywords []string
}

var (
	themeBuckets = []keywordBucket{
		{"technical", []string{
			"api", "database", "query", "performance", "error", "bug", "fix",
			"deploy", "deployment", "code", "function", "class", "method",
			"server", "endpoint", "response", "request", "latency", "memory",
			"cpu", "cache", "optimization", "algorithm", "architecture",
			"framework", "library", "dependency", "version", "build",
		}},
		{"feature", []string{"feature", "new feature", "functionality"}},
		{"project", []string{"project", "roadmap", "milestone", "deadline"}},
		{"problem-solving", []string{"issue", "problem", "solution", "fix"}},
	}
	topicBuckets = []keywordBucket{
		{"technical", []string{"api", "code", "function", "error", "bug", "deploy"}},
		{"business", []string{"meeting", "project", "deadline", "client"}},
		{"casual", []string{"weather", "lunch", "weekend", "vacation"}},
	}

	questionWords = []string{"what", "how", "why", "when", "where", "?"}
	helpWords     = []string{"help", "assist", "support"}
	problemWords  = []string{"problem", "issue", "error", "bug"}
)

// AnalyzeConversation reports themes, topics, question density and the most
// active participants of recent messages.
type AnalyzeConversation struct {
	base
	reader ChannelReader
}

// NewAnalyzeConversation creates the analyze_conversation tool.
func NewAnalyzeConversation(reader ChannelReader) *AnalyzeConversation {
	return &AnalyzeConversation{
		base: base{
			name:        AnalyzeConversationName,
			description: "Analyze conversation context to understand themes, topics and participation",
			keywords:    []string{"topics", "themes", "analysis", "sentiment", "patterns"},
		},
		reader: reader,
	}
}

// Schema implements tools.Tool.
func (t *AnalyzeConversation) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"channel_id": channelProp,
		"thread_ts":  threadProp,
		"limit":      limitProp,
	}, "channel_id")
}

// Analysis is the structured result of analyzing a conversation.
type Analysis struct {
	Messages         int
	Themes           []string
	Topics           []string
	ConversationType string
	Questions        int
	Participants     []participantCount
}

// QuestionDensity is the share of messages that ask something.
func (a Analysis) QuestionDensity() float64 {
	if a.Messages == 0 {
		return 0
	}
	return float64(a.Questions) / float64(a.Messages)
}

// Analyze classifies msgs.
func Analyze(msgs []models.RawMessage) Analysis {
	a := Analysis{Messages: len(msgs), Participants: countParticipants(msgs)}
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lower := strings.ToLower(m.Text)
		texts = append(texts, lower)
		if strings.Contains(lower, "?") {
			a.Questions++
		}
	}
	all := strings.Join(texts, " ")

	a.Themes = matchBuckets(all, themeBuckets)
	if len(a.Themes) == 0 {
		a.Themes = []string{"general"}
	}
	a.Topics = matchBuckets(all, topicBuckets)

	switch {
	case containsAny(all, questionWords):
		a.ConversationType = "informational question"
	case containsAny(all, helpWords):
		a.ConversationType = "help request"
	case containsAny(all, problemWords):
		a.ConversationType = "problem report"
	default:
		a.ConversationType = "general conversation"
	}
	return a
}

// Execute implements tools.Tool.
func (t *AnalyzeConversation) Execute(ctx context.Context, params models.Params) (string, error) {
	msgs, err := loadMessages(ctx, t.reader, params)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "No messages to analyze.", nil
	}
	return Render(params.StringOr("channel_id", "unknown"), Analyze(msgs)), nil
}

// Render formats a as a reply. Labels are title-cased.
func Render(channel string, a Analysis) string {
	// A Caser is stateful; one per call keeps concurrent tools apart.
	title := cases.Title(language.English)
	titledList := func(labels []string) string {
		out := make([]string, len(labels))
		for i, l := range labels {
			out[i] = title.String(l)
		}
		return strings.Join(out, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation analysis for %s (%d messages, %d participants)\n", channel, a.Messages, len(a.Participants))
	fmt.Fprintf(&b, "Type: %s\n", title.String(a.ConversationType))
	fmt.Fprintf(&b, "Themes: %s\n", titledList(a.Themes))
	if len(a.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", titledList(a.Topics))
	}
	fmt.Fprintf(&b, "Question density: %.0f%% (%d of %d messages)", a.QuestionDensity()*100, a.Questions, a.Messages)
	if len(a.Participants) > 0 {
		top := a.Participants[:min(len(a.Participants), topParticipants)]
		parts := make([]string, 0, len(top))
		for _, p := range top {
			parts = append(parts, fmt.Sprintf("<@%s> (%d)", p.UserID, p.Messages))
		}
		fmt.Fprintf(&b, "\nTop participants: %s", strings.Join(parts, ", "))
	}
	return b.String()
}

func matchBuckets(text string, buckets []keywordBucket) []string {
	var out []string
	for _, b := range buckets {
		if containsAny(text, b.keywords) {
			out = append(out, b.label)
		}
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
