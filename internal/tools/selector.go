package tools

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/haasonsaas/threadwise/pkg/models"
)

// MaxSelectedTools caps how many tools one request may run.
const MaxSelectedTools = 3

// LowConfidence is the threshold below which a fallback tool is added.
const LowConfidence = 0.6

var intentTools = map[models.IntentType][]string{
	models.IntentSummarization:     {"fetch_slack_messages", "summarize_messages"},
	models.IntentAnalysis:          {"fetch_slack_messages", "analyze_conversation"},
	models.IntentInformationLookup: {"fetch_slack_messages", "get_participant_info"},
	models.IntentAmbiguous:         {"fetch_slack_messages"},
	models.IntentUnknown:           {"fetch_slack_messages"},
}

var fallbackMarkers = []string{"fetch", "get", "basic"}

// Selector picks tools for a classified intent.
type Selector struct {
	registry *Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	mappings  map[string][]string
	fallbacks []string
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorLogger sets the logger.
func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSelector builds a selector over registry.
func NewSelector(registry *Registry, opts ...SelectorOption) *Selector {
	s := &Selector{
		registry: registry,
		logger:   slog.Default().With("component", "tool-selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Rebuild()
	return s
}

// Rebuild recomputes keyword mappings and fallback tools from the registry.
// Call it whenever tools are registered or removed.
func (s *Selector) Rebuild() {
	mappings := make(map[string][]string)
	var fallbacks []string
	for _, tool := range s.registry.Tools() {
		name := tool.Name()
		for _, kw := range tool.Keywords() {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || slices.Contains(mappings[kw], name) {
				continue
			}
			mappings[kw] = append(mappings[kw], name)
		}
		lower := strings.ToLower(name)
		for _, marker := range fallbackMarkers {
			if strings.Contains(lower, marker) {
				fallbacks = append(fallbacks, name)
				break
			}
		}
	}

	s.mu.Lock()
	s.mappings = mappings
	s.fallbacks = fallbacks
	s.mu.Unlock()

	s.logger.Debug("rebuilt tool mappings", "tools", s.registry.Len(), "keywords", len(mappings))
}

// Select returns at most MaxSelectedTools names: the intent's suggestions,
// then tools whose keywords match parameter names, then the intent-type
// defaults, plus one fallback when confidence is low.
func (s *Selector) Select(intent models.UserIntent) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []string
	add := func(name string) {
		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}

	for _, name := range intent.ToolSuggestions {
		add(name)
	}
	for _, key := range intent.Parameters.Keys() {
		for _, name := range s.mappings[strings.ToLower(key)] {
			add(name)
		}
	}
	for _, name := range intentTools[intent.Primary] {
		add(name)
	}

	if intent.Confidence < LowConfidence || intent.Primary.IsUncertain() {
		for _, name := range s.fallbacks {
			if !slices.Contains(selected, name) {
				selected = append(selected, name)
				break
			}
		}
	}

	if len(selected) > MaxSelectedTools {
		selected = selected[:MaxSelectedTools]
	}
	s.logger.Info("selected tools", "intent", intent.Primary, "tools", selected)
	return selected
}
