package threadctx

import "unicode/utf8"

// MessageOverhead is added to every message's token estimate for role and
// formatting tokens.
const MessageOverhead = 10

// EstimateTokens returns ceil(runes/4), at least 1 for non-empty text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateMessageTokens is the estimate charged against a context budget.
func EstimateMessageTokens(text string) int {
	return EstimateTokens(text) + MessageOverhead
}
