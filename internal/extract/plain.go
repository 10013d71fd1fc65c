package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as text. A UTF-8 byte order mark is dropped, CRLF line
// endings become LF, and invalid UTF-8 sequences become the replacement character.
func extractPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}
