// Package render post-processes completion output before delivery: markdown
// to Telegram HTML conversion and emotion tag handling.
package render

import "regexp"

var (
	boldStarsPattern      = regexp.MustCompile(`\*\*(.*?)\*\*`)
	boldUnderscorePattern = regexp.MustCompile(`__(.*?)__`)
	italicStarPattern     = regexp.MustCompile(`\*(.*?)\*`)
	italicUnderscorePtn   = regexp.MustCompile(`_(.*?)_`)
	inlineCodePattern     = regexp.MustCompile("`(.*?)`")
	codeFencePattern      = regexp.MustCompile("(?s)```.*?```")
	linkPattern           = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// ConvertMarkdownToHTML rewrites the constrained markdown dialect the
// completion backend emits into the HTML tags Telegram supports. Fenced code
// blocks render poorly in chats and are dropped entirely. The rewrite is
// idempotent on text that no longer contains markdown sentinels.
func ConvertMarkdownToHTML(text string) string {
	text = boldStarsPattern.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderscorePattern.ReplaceAllString(text, "<b>$1</b>")
	text = italicStarPattern.ReplaceAllString(text, "<i>$1</i>")
	text = italicUnderscorePtn.ReplaceAllString(text, "<i>$1</i>")
	text = inlineCodePattern.ReplaceAllString(text, "<code>$1</code>")
	text = codeFencePattern.ReplaceAllString(text, "")
	text = linkPattern.ReplaceAllString(text, `<a href="$2">$1</a>`)
	return text
}
