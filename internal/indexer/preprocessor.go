package indexer

import (
	"strings"
	"unicode"
)

const byteOrderMark = '\uFEFF'

// Preprocess cleans extracted text before chunking. Byte-order marks and control characters
// are dropped, and whitespace runs collapse to one space.
func Preprocess(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == byteOrderMark:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(cleaned), " ")
}
