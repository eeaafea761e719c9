package ui

import (
	"strings"
	"unicode/utf8"
)

// Heading renders title between two rules of ch, each as wide as the title:
//
//	======
//	Totals
//	======
func Heading(title string, ch rune) string {
	rule := strings.Repeat(string(ch), utf8.RuneCountInString(title))
	return rule + "\n" + title + "\n" + rule + "\n"
}

// Underline renders title followed by a rule of ch as wide as the title.
func Underline(title string, ch rune) string {
	return title + "\n" + strings.Repeat(string(ch), utf8.RuneCountInString(title)) + "\n"
}

// Indent prefixes every line of s with prefix. A trailing newline does not
// produce an extra indented empty line.
func Indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
