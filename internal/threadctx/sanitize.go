package threadctx

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSanitizedChars caps input before pattern filtering.
	MaxSanitizedChars = 10000

	truncatedSuffix = "... [truncated for safety]"
	filteredText    = "[content filtered]"
	codeBlockText   = "[code block removed]"
	inlineCodeText  = "[inline code removed]"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions?|prompts?|rules)\b`),
		regexp.MustCompile(`(?i)\bforget\s+(?:everything|all|what)\b`),
		regexp.MustCompile(`(?i)\bpretend\s+(?:to\s+be|you\s+are)\b`),
		regexp.MustCompile(`(?i)\bact\s+as\s+(?:if|though|a|an)\b`),
		regexp.MustCompile(`(?i)\byou\s+are\s+now\b`),
		regexp.MustCompile(`(?i)\bnew\s+instructions?\b`),
		regexp.MustCompile(`(?i)\brole\s*:\s*(?:system|admin|developer)\b`),
		regexp.MustCompile(`(?i)\boverride\s+(?:safety|security|guidelines?)\b`),
		regexp.MustCompile(`(?i)\bsystem\s+prompt\b`),
		regexp.MustCompile(`(?i)\bjailbreak\w*\b`),
		regexp.MustCompile(`(?i)\bdeveloper\s+mode\b`),
	}

	codeFence    = regexp.MustCompile("```[^`]*```")
	inlineCode   = regexp.MustCompile("`[^`]+`")
	htmlTag      = regexp.MustCompile(`<[^>]+>`)
	htmlEntity   = regexp.MustCompile(`&[a-zA-Z]+;`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Sanitize neutralizes control characters, oversized input, prompt injection
// phrases, code, and HTML markup. Slack markup should be resolved first.
func Sanitize(text string) string {
	text, _ = sanitize(text)
	return text
}

// sanitize also reports whether any injection pattern fired.
func sanitize(text string) (string, bool) {
	text = controlChars.ReplaceAllString(text, "")

	if utf8.RuneCountInString(text) > MaxSanitizedChars {
		text = string([]rune(text)[:MaxSanitizedChars]) + truncatedSuffix
	}

	filtered := false
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			filtered = true
			text = re.ReplaceAllString(text, filteredText)
		}
	}

	text = codeFence.ReplaceAllString(text, codeBlockText)
	text = inlineCode.ReplaceAllString(text, inlineCodeText)

	if strings.ContainsAny(text, "<>&") && (htmlTag.MatchString(text) || htmlEntity.MatchString(text)) {
		text = html.EscapeString(text)
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), filtered
}

// CleanText resolves Slack markup and sanitizes the result.
func CleanText(text string) string {
	return Sanitize(ResolveMarkup(text))
}
