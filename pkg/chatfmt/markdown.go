package chatfmt

import "strings"

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// EscapeMarkdown backslash-escapes the characters that open an entity in
// Telegram's legacy Markdown, so s renders literally outside a code fence.
// Code sections need no escaping.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
