package utils

import (
	"strings"
)

// TruncateOutput caps captured command output for denormalized summaries and
// notification payloads.
func TruncateOutput(output string, max int) string {
	if len(output) <= max {
		return output
	}
	return output[:max] + "..."
}

// EscapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parse mode
// reserves, so failure reasons render verbatim.
func EscapeMarkdownV2(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"(", "\\(",
		")", "\\)",
		"~", "\\~",
		"`", "\\`",
		">", "\\>",
		"#", "\\#",
		"+", "\\+",
		"-", "\\-",
		"=", "\\=",
		"|", "\\|",
		"{", "\\{",
		"}", "\\}",
		".", "\\.",
		"!", "\\!",
	)
	return replacer.Replace(text)
}
