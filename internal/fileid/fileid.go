// Package fileid derives deterministic document ids.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	filePrefix = "file:"
	textPrefix = "text:"
)

// FileDocID returns a stable document ID for the given absolute path, so re-ingesting
// the same file replaces its earlier version.
func FileDocID(absolutePath string) string {
	return filePrefix + digest(filepath.Clean(absolutePath))
}

// TextDocID returns a stable document ID for text submitted without an id. The same title
// and content always map to the same id.
func TextDocID(title, content string) string {
	return textPrefix + digest(title, "\x00", content)
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	return strings.HasPrefix(id, filePrefix)
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
