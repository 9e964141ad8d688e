// Package intent classifies inbound requests with deterministic pattern rules.
package intent

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/threadwise/pkg/models"
)

type category struct {
	intent   models.IntentType
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// categories are scored in this order; ties go to the earlier entry.
var categories = []category{
	{models.IntentSummarization, compile(
		`\b(summarize|summary|sum up|recap|overview)\b`,
		`\blast\s+\d+\s+(messages?|posts?)\b`,
		`\bwhat\s+(happened|was discussed)\b`,
		`\bgive me (a|an)\s+(summary|overview|recap)\b`,
		`\bcan you summarize\b`,
		`\bsummarize.*messages?\b`,
	)},
	{models.IntentAnalysis, compile(
		`\b(analyze|analysis|topics?|themes?)\b`,
		`\bwhat\s+(are|were)\s+the\s+main\b`,
		`\bkey\s+(points?|topics?|themes?)\b`,
		`\b(sentiment|mood|tone)\b`,
		`\bwho\s+(said|mentioned|talked about)\b`,
	)},
	{models.IntentInformationLookup, compile(
		`\bwho\s+(participated|joined|was in)\b`,
		`\b(when|what time)\b`,
		`\bhow many\s+(people|participants|messages)\b`,
		`\blist\s+(participants|members|users)\b`,
		`\bshow me\s+\w+`,
		`\btell me about\s+(\w+\s+){2,}`,
		`\bwhat'?s\s+the\s+(current\s+)?(status|state)\b`,
	)},
	{models.IntentGreeting, compile(
		`\b(hello|hi|hey|good morning|good afternoon)\b`,
		`\bwhat'?s up\b`,
		`\bhow are you\b`,
	)},
	{models.IntentHelp, compile(
		`\bhelp\b`,
		`\bwhat can you do\b`,
		`\bhow do i\b`,
		`\bcan you help\b`,
		`\binstructions?\b`,
		`\bcan you\s+(help|assist|guide)\b`,
	)},
}

var (
	messageCountPattern = regexp.MustCompile(`(?i)\blast\s+(\d+)\s+messages?\b`)
	channelRefPattern   = regexp.MustCompile(`#(\w+)`)
	timeRefPattern      = regexp.MustCompile(`(?i)\b(today|yesterday|this week|last week)\b`)
	userRefPattern      = regexp.MustCompile(`@(\w+)`)
	stylePattern        = regexp.MustCompile(`(?i)\b(brief|detailed|short|long|quick)\b`)
)

var (
	toolSuggestions = map[models.IntentType][]string{
		models.IntentSummarization:     {"fetch_slack_messages", "summarize_messages"},
		models.IntentAnalysis:          {"fetch_slack_messages", "analyze_conversation"},
		models.IntentInformationLookup: {"fetch_slack_messages"},
	}
	fallbackSuggestions = map[models.IntentType][]string{
		models.IntentSummarization:     {"provide_help", "suggest_alternatives"},
		models.IntentAnalysis:          {"provide_help", "suggest_alternatives"},
		models.IntentInformationLookup: {"provide_help"},
		models.IntentGreeting:          {"provide_greeting_response"},
		models.IntentHelp:              {"provide_help"},
		models.IntentAmbiguous:         {"ask_clarification", "provide_help"},
		models.IntentUnknown:           {"ask_clarification"},
	}
)

// Parameter keys produced by Classify.
const (
	ParamMessageCount     = "message_count"
	ParamChannelReference = "channel_reference"
	ParamTimeReference    = "time_reference"
	ParamUserReference    = "user_reference"
	ParamStyle            = "style"
)

// MaxMessageCount caps message_count; larger and overflowing counts clamp to it.
const MaxMessageCount = 100

// Classifier maps free text to a UserIntent. It holds no state and is safe
// for concurrent use.
type Classifier struct{}

// NewClassifier returns a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify scores message against every category and applies the ambiguity
// rules.
func (c *Classifier) Classify(message string) models.UserIntent {
	text := strings.ToLower(strings.TrimSpace(message))
	scores := Scores(text)

	primary := models.IntentUnknown
	confidence := 0.0
	for _, cat := range categories {
		if s, ok := scores[cat.intent]; ok && s > confidence {
			primary, confidence = cat.intent, s
		}
	}

	var above03 []models.IntentType
	above05 := 0
	for _, cat := range categories {
		s, ok := scores[cat.intent]
		if !ok {
			continue
		}
		if s > 0.3 {
			above03 = append(above03, cat.intent)
		}
		if s > 0.5 {
			above05++
		}
	}

	switch {
	case confidence < 0.5 && len(above03) == 1:
		primary = above03[0]
		confidence = max(scores[primary], 0.5)
	case confidence < 0.3 || above05 > 1:
		primary = models.IntentAmbiguous
		confidence = min(confidence, 0.4)
	}

	params := ExtractParameters(message)
	return models.UserIntent{
		Primary:             primary,
		Confidence:          confidence,
		ToolSuggestions:     append([]string{}, toolSuggestions[primary]...),
		Parameters:          params,
		FallbackSuggestions: append([]string{}, fallbackSuggestions[primary]...),
	}
}

// Scores returns the clamped score of every category with at least one match.
func Scores(text string) map[models.IntentType]float64 {
	scores := make(map[models.IntentType]float64)
	words := len(strings.Fields(text))
	for _, cat := range categories {
		score := 0.0
		matches := 0
		for _, re := range cat.patterns {
			if re.MatchString(text) {
				matches++
				score += 0.5 + 0.15*float64(min(matches-1, 3))
			}
		}
		if score > 0 {
			boost := min(float64(words)/20, 0.3)
			scores[cat.intent] = min(score+boost, 1.0)
		}
	}
	return scores
}

// ExtractParameters pulls counts, references and style hints out of message.
func ExtractParameters(message string) models.Params {
	params := models.Params{}

	if m := messageCountPattern.FindStringSubmatch(message); m != nil {
		n, err := strconv.Atoi(m[1])
		switch {
		case err == nil:
			params[ParamMessageCount] = models.Int(max(1, min(n, MaxMessageCount)))
		case errors.Is(err, strconv.ErrRange):
			params[ParamMessageCount] = models.Int(MaxMessageCount)
		}
	}
	if m := channelRefPattern.FindStringSubmatch(message); m != nil {
		params[ParamChannelReference] = models.String("#" + m[1])
	}
	if m := timeRefPattern.FindStringSubmatch(message); m != nil {
		params[ParamTimeReference] = models.String(strings.ToLower(m[1]))
	}
	if m := userRefPattern.FindStringSubmatch(message); m != nil {
		params[ParamUserReference] = models.String("@" + m[1])
	}
	if m := stylePattern.FindStringSubmatch(message); m != nil {
		switch strings.ToLower(m[1]) {
		case "brief", "short", "quick":
			params[ParamStyle] = models.String("brief")
		case "detailed", "long":
			params[ParamStyle] = models.String("detailed")
		}
	}
	return params
}
