package models

// IntentType classifies what a user is asking for.
type IntentType string

const (
	IntentSummarization     IntentType = "summarization"
	IntentAnalysis          IntentType = "analysis"
	IntentInformationLookup IntentType = "information_lookup"
	IntentGreeting          IntentType = "greeting"
	IntentHelp              IntentType = "help"
	IntentAmbiguous         IntentType = "ambiguous"
	IntentUnknown           IntentType = "unknown"
)

// IsUncertain reports whether the intent carries no actionable signal.
func (t IntentType) IsUncertain() bool {
	return t == IntentAmbiguous || t == IntentUnknown
}

// UserIntent is the classification of one inbound message.
type UserIntent struct {
	Primary             IntentType `json:"primary_intent"`
	Confidence          float64    `json:"confidence"`
	ToolSuggestions     []string   `json:"tool_suggestions"`
	Parameters          Params     `json:"parameters"`
	FallbackSuggestions []string   `json:"fallback_suggestions"`
}
