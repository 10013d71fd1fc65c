// Package extract provides text extraction from various document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

type textFunc func(content []byte) (string, error)

type recordsFunc func(content []byte) ([]string, error)

var textExtractors = map[string]textFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".csv":  extractPlain,
	".pdf":  extractPDF,
	".xlsx": extractExcel,
	".rtf":  extractRTF,
}

var recordExtractors = map[string]recordsFunc{
	".csv":  csvRecords,
	".xlsx": excelRecords,
}

func init() {
	for ext, format := range zipFormats {
		format := format
		textExtractors[ext] = func(content []byte) (string, error) { return extractZip(format, content) }
	}
}

// SupportedExtensions returns every extension Extract handles, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(textExtractors))
	for ext := range textExtractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extractor extracts plain text from document files. Every failure wraps models.ErrExtraction.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supports reports whether ext (with leading dot, any case) can be extracted.
func (e *Extractor) Supports(ext string) bool {
	_, ok := textExtractors[strings.ToLower(ext)]
	return ok
}

// HasRecords reports whether ext is a tabular format that ExtractRecords splits into rows.
func (e *Extractor) HasRecords(ext string) bool {
	_, ok := recordExtractors[strings.ToLower(ext)]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read file: %w", models.ErrExtraction, err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension, which should include
// the leading dot (e.g. ".pdf"). An empty extension is read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if ext == "" {
		return extractPlain(content)
	}
	fn, ok := textExtractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedType, ext)
	}
	text, err := fn(content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	return text, nil
}

// ExtractRecords returns one "header: value, ..." record per data row of a CSV or XLSX file.
func (e *Extractor) ExtractRecords(content []byte, ext string) ([]string, error) {
	fn, ok := recordExtractors[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: no records in %q", models.ErrUnsupportedType, ext)
	}
	records, err := fn(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	return records, nil
}

// ExtractFileRecords reads the file at path and returns its records.
func (e *Extractor) ExtractFileRecords(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %w", models.ErrExtraction, err)
	}
	return e.ExtractRecords(content, filepath.Ext(path))
}
