package threadctx

import "regexp"

var (
	userMentionPattern    = regexp.MustCompile(`<@([^>|]+)(?:\|([^>]+))?>`)
	channelMentionPattern = regexp.MustCompile(`<#([^>|]+)(?:\|([^>]+))?>`)
	labeledLinkPattern    = regexp.MustCompile(`<((?:https?|mailto):[^>|]+)\|([^>]+)>`)
	bareLinkPattern       = regexp.MustCompile(`<((?:https?|mailto):[^>|]+)>`)
	groupMentionPattern   = regexp.MustCompile(`<!(?:here|channel|everyone)(?:\|[^>]*)?>`)
)

// ResolveMarkup rewrites Slack angle-bracket markup into plain text so that
// later HTML detection does not mistake it for tags.
func ResolveMarkup(text string) string {
	text = userMentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := userMentionPattern.FindStringSubmatch(m)
		if parts[2] != "" {
			return "@" + parts[2]
		}
		return "@" + parts[1]
	})
	text = channelMentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := channelMentionPattern.FindStringSubmatch(m)
		if parts[2] != "" {
			return "#" + parts[2]
		}
		return "#" + parts[1]
	})
	text = labeledLinkPattern.ReplaceAllString(text, "$2")
	text = bareLinkPattern.ReplaceAllString(text, "$1")
	text = groupMentionPattern.ReplaceAllString(text, "[group mention]")
	return text
}
