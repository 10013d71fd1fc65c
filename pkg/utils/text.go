// Package utils holds small helpers shared by the engine and the CLI.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Truncate shortens s to at most maxLen runes plus "...". The cut moves back to the last
// space when one falls in the second half of the kept text, so snippets end on a whole word.
// A non-positive maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	kept := []rune(s)[:maxLen]
	if i := lastSpace(kept); i >= maxLen/2 {
		kept = kept[:i]
	}
	return strings.TrimRightFunc(string(kept), unicode.IsSpace) + "..."
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}
