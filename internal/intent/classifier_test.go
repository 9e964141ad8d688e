package intent

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/haasonsaas/threadwise/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    models.IntentType
		minConf float64
		maxConf float64
		tools   []string
	}{
		{
			name:    "summarize last n",
			message: "Can you summarize the last 10 messages?",
			want:    models.IntentSummarization,
			minConf: 0.8,
			maxConf: 1,
			tools:   []string{"fetch_slack_messages", "summarize_messages"},
		},
		{
			name:    "analysis",
			message: "What are the main topics discussed in this thread?",
			want:    models.IntentAnalysis,
			minConf: 0.7,
			maxConf: 1,
			tools:   []string{"fetch_slack_messages", "analyze_conversation"},
		},
		{
			name:    "lookup",
			message: "Who participated in this conversation?",
			want:    models.IntentInformationLookup,
			minConf: 0.7,
			maxConf: 0.75,
			tools:   []string{"fetch_slack_messages"},
		},
		{
			name:    "greeting",
			message: "Hello there!",
			want:    models.IntentGreeting,
			minConf: 0.6,
			maxConf: 0.6,
			tools:   []string{},
		},
		{
			name:    "help",
			message: "Can you help me?",
			want:    models.IntentHelp,
			minConf: 1,
			maxConf: 1,
			tools:   []string{},
		},
		{
			name:    "vague",
			message: "Tell me about stuff",
			want:    models.IntentAmbiguous,
			minConf: 0,
			maxConf: 0,
			tools:   []string{},
		},
		{
			name:    "competing categories",
			message: "hello, can you summarize the last 5 messages?",
			want:    models.IntentAmbiguous,
			minConf: 0.4,
			maxConf: 0.4,
			tools:   []string{},
		},
		{
			name:    "empty",
			message: "   ",
			want:    models.IntentAmbiguous,
			minConf: 0,
			maxConf: 0,
			tools:   []string{},
		},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.message)
			if got.Primary != tt.want {
				t.Fatalf("Primary = %s, want %s (confidence %v)", got.Primary, tt.want, got.Confidence)
			}
			if got.Confidence < tt.minConf-1e-9 || got.Confidence > tt.maxConf+1e-9 {
				t.Errorf("Confidence = %v, want in [%v, %v]", got.Confidence, tt.minConf, tt.maxConf)
			}
			if !reflect.DeepEqual(got.ToolSuggestions, tt.tools) {
				t.Errorf("ToolSuggestions = %v, want %v", got.ToolSuggestions, tt.tools)
			}
			if len(got.FallbackSuggestions) == 0 {
				t.Error("FallbackSuggestions is empty")
			}
		})
	}
}

func TestClassify_AmbiguousFallbacks(t *testing.T) {
	got := NewClassifier().Classify("Tell me about stuff")
	want := []string{"ask_clarification", "provide_help"}
	if !reflect.DeepEqual(got.FallbackSuggestions, want) {
		t.Errorf("FallbackSuggestions = %v, want %v", got.FallbackSuggestions, want)
	}
}

func TestClassify_ConfidenceOrdering(t *testing.T) {
	c := NewClassifier()
	high := c.Classify("Please summarize this conversation").Confidence
	low := c.Classify("What's happening?").Confidence
	if high <= low {
		t.Errorf("high = %v, low = %v", high, low)
	}
}

func TestClassify_SuggestionsAreCopies(t *testing.T) {
	c := NewClassifier()
	first := c.Classify("summarize please")
	first.ToolSuggestions[0] = "mutated"
	second := c.Classify("summarize please")
	if second.ToolSuggestions[0] != "fetch_slack_messages" {
		t.Errorf("suggestion table was mutated: %v", second.ToolSuggestions)
	}
}

func TestScores(t *testing.T) {
	scores := Scores("summarize")
	if math.Abs(scores[models.IntentSummarization]-0.55) > 1e-9 {
		t.Errorf("score = %v, want 0.55", scores[models.IntentSummarization])
	}
	if _, ok := scores[models.IntentGreeting]; ok {
		t.Error("unexpected greeting score")
	}
	if len(Scores("nothing to see")) != 0 {
		t.Error("expected no scores")
	}
}

func TestExtractParameters(t *testing.T) {
	tests := []struct {
		message string
		key     string
		want    models.Value
	}{
		{"Summarize the last 25 messages from #general", ParamMessageCount, models.Int(25)},
		{"Summarize the last 25 messages from #general", ParamChannelReference, models.String("#general")},
		{"last 500 messages please", ParamMessageCount, models.Int(100)},
		{"last 0 messages please", ParamMessageCount, models.Int(1)},
		{"last 99999999999999999999 messages", ParamMessageCount, models.Int(MaxMessageCount)},
		{"what did @alice say", ParamUserReference, models.String("@alice")},
		{"anything from Yesterday?", ParamTimeReference, models.String("yesterday")},
		{"a quick recap", ParamStyle, models.String("brief")},
		{"a LONG recap", ParamStyle, models.String("detailed")},
	}
	for _, tt := range tests {
		t.Run(tt.message+"/"+tt.key, func(t *testing.T) {
			got := ExtractParameters(tt.message)
			v, ok := got[tt.key]
			if !ok {
				t.Fatalf("missing %s in %v", tt.key, got.Keys())
			}
			if v.Text() != tt.want.Text() || v.Kind() != tt.want.Kind() {
				t.Errorf("%s = %s, want %s", tt.key, v.Text(), tt.want.Text())
			}
		})
	}

	if got := ExtractParameters("nothing here"); len(got) != 0 {
		t.Errorf("params = %v", got.Keys())
	}
}

func TestTimeRange(t *testing.T) {
	// Thursday.
	now := time.Date(2024, 3, 14, 15, 30, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		ref      string
		from, to time.Time
	}{
		{"today", day(14), now},
		{"yesterday", day(13), day(14)},
		{"this week", day(11), now},
		{"last week", day(4), day(11)},
	}
	for _, tt := range tests {
		from, to, ok := TimeRange(tt.ref, now)
		if !ok || !from.Equal(tt.from) || !to.Equal(tt.to) {
			t.Errorf("TimeRange(%q) = %v, %v, %v; want %v, %v", tt.ref, from, to, ok, tt.from, tt.to)
		}
	}

	sunday := time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)
	if from, _, _ := TimeRange("this week", sunday); !from.Equal(day(11)) {
		t.Errorf("this week on Sunday starts %v", from)
	}
	if _, _, ok := TimeRange("next year", now); ok {
		t.Error("unknown reference should not resolve")
	}
}
