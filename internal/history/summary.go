package history

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	importanceKeywords = []string{
		"decision", "action", "todo", "deadline", "important", "critical",
		"summary", "conclusion", "resolution", "agreed", "decided",
		"next steps", "follow up", "assigned", "responsible", "deliver",
	}
	technicalKeywords = []string{
		"error", "exception", "bug", "fix", "deploy", "release", "version",
		"api", "endpoint", "database", "query", "performance", "optimization",
		"architecture", "design", "implementation", "requirements",
	}

	decisionKeywords = []string{"decided", "agreed", "conclusion"}
	actionKeywords   = []string{"todo", "action", "assigned", "responsible"}
)

const (
	maxEntriesPerBucket = 3
	maxContextSummary   = 500
	maxKeySentence      = 150
	minKeySentence      = 10
)

// Importance scores msg in [0,1] from keywords, questions, mentions, thread
// roots, length and age relative to now.
func Importance(msg Message, now time.Time) float64 {
	text := strings.ToLower(msg.Text)
	score := 0.1

	for _, kw := range importanceKeywords {
		if strings.Contains(text, kw) {
			score += 0.2
		}
	}
	for _, kw := range technicalKeywords {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	if strings.Contains(msg.Text, "?") {
		score += 0.15
	}
	if strings.Contains(msg.Text, "<@") {
		score += 0.1
	}
	if msg.ThreadTS != "" && msg.ThreadTS == msg.TS {
		score += 0.2
	}

	n := utf8.RuneCountInString(msg.Text)
	if n > 100 {
		score += min(0.2, float64(n)/1000)
	} else if n < 20 {
		score -= 0.1
	}

	if !msg.Time.IsZero() {
		switch age := now.Sub(msg.Time); {
		case age < time.Hour:
			score += 0.1
		case age < 6*time.Hour:
			score += 0.05
		}
	}

	return max(0, min(1, score))
}

func summarize(msg Message, importance float64) MessageSummary {
	return MessageSummary{
		Timestamp:      msg.TS,
		UserID:         msg.UserID,
		ContentSummary: contentSummary(msg.Text),
		Importance:     importance,
		Kind:           msg.Kind,
		ThreadContext:  msg.ThreadTS != "",
	}
}

// contentSummary shortens text to MaxSummaryChars, preferring a sentence that
// carries an importance keyword.
func contentSummary(text string) string {
	if utf8.RuneCountInString(text) <= MaxSummaryChars {
		return text
	}
	sentences := splitSentences(text)
	for _, s := range sentences {
		lower := strings.ToLower(s)
		if utf8.RuneCountInString(s) <= MaxSummaryChars && containsAny(lower, importanceKeywords) {
			return s
		}
	}
	if len(sentences) > 0 && utf8.RuneCountInString(sentences[0]) <= MaxSummaryChars {
		return sentences[0]
	}
	return truncate(text, MaxSummaryChars)
}

// summarizeMessages groups msgs into decision, action and technical buckets.
func summarizeMessages(msgs []Message) (string, bool) {
	var decisions, actions, technical []string
	for _, m := range msgs {
		lower := strings.ToLower(m.Text)
		switch {
		case containsAny(lower, decisionKeywords):
			decisions = append(decisions, keySentence(m.Text))
		case containsAny(lower, actionKeywords):
			actions = append(actions, keySentence(m.Text))
		case containsAny(lower, technicalKeywords):
			technical = append(technical, keySentence(m.Text))
		}
	}

	var parts []string
	add := func(label string, entries []string) {
		if len(entries) == 0 {
			return
		}
		if len(entries) > maxEntriesPerBucket {
			entries = entries[:maxEntriesPerBucket]
		}
		parts = append(parts, label+": "+strings.Join(entries, "; "))
	}
	add("Key decisions", decisions)
	add("Action items", actions)
	add("Technical notes", technical)

	if len(parts) == 0 {
		return "", false
	}
	return truncate(strings.Join(parts, " | "), maxContextSummary), true
}

// keySentence picks the shortest sentence of useful length.
func keySentence(text string) string {
	sentences := splitSentences(text)
	sort.SliceStable(sentences, func(i, j int) bool { return len(sentences[i]) < len(sentences[j]) })
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if n >= minKeySentence && n <= maxKeySentence {
			return s
		}
	}
	return truncate(strings.TrimSpace(text), maxKeySentence)
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range strings.Split(text, ". ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
