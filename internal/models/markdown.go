package models

import "strings"

// CleanExport turns a markdown export into the text stored locally. The
// export repeats the page title as a level-1 heading on its first line; that
// line is dropped and the remainder trimmed. Line endings become "\n".
func CleanExport(markdown string) string {
	markdown = NormalizeNewlines(markdown)
	if strings.HasPrefix(markdown, "# ") {
		_, rest, _ := strings.Cut(markdown, "\n")
		markdown = strings.TrimSpace(rest)
	}
	return markdown
}

// NormalizeNewlines converts "\r\n" and lone "\r" to "\n".
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
