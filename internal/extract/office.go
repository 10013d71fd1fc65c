package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// zipFormat describes a ZIP/XML office format: which parts hold the text and which elements
// carry it. Each pattern has one capture group with the element text.
type zipFormat struct {
	name     string
	parts    func(zr *zip.Reader) []string
	patterns []*regexp.Regexp
	// required makes a missing part an error instead of empty text.
	required bool
}

var (
	wordText  = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	drawText  = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odfPara   = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfSpan   = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfHead   = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
	slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultMainPath = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	odfContentPath      = "content.xml"
)

var overrideTag = regexp.MustCompile(`<Override[^>]*>`)
var partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)

var zipFormats = map[string]zipFormat{
	".docx": {name: "DOCX", parts: docxParts, patterns: []*regexp.Regexp{wordText}, required: true},
	".pptx": {name: "PPTX", parts: pptxParts, patterns: []*regexp.Regexp{drawText}},
	".odt":  {name: "ODT", parts: odfParts, patterns: []*regexp.Regexp{odfHead, odfPara, odfSpan}, required: true},
	".odp":  {name: "ODP", parts: odfParts, patterns: []*regexp.Regexp{odfPara, odfSpan, odfHead}, required: true},
	".ods":  {name: "ODS", parts: odfParts, patterns: []*regexp.Regexp{odfPara, odfSpan}, required: true},
}

func odfParts(*zip.Reader) []string { return []string{odfContentPath} }

// docxParts returns the main document part named in [Content_Types].xml, or word/document.xml.
func docxParts(zr *zip.Reader) []string {
	data, err := readPart(zr, contentTypesPath)
	if err == nil && data != nil {
		for _, tag := range overrideTag.FindAllString(string(data), -1) {
			if !strings.Contains(tag, `ContentType="`+docxMainContentType+`"`) {
				continue
			}
			if m := partNameAttr.FindStringSubmatch(tag); len(m) > 1 {
				return []string{strings.TrimPrefix(m[1], "/")}
			}
		}
	}
	return []string{docxDefaultMainPath}
}

// pptxParts returns slide parts in slide number order.
func pptxParts(zr *zip.Reader) []string {
	type slide struct {
		name string
		n    int
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{f.Name, n})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	names := make([]string, len(slides))
	for i, s := range slides {
		names[i] = s.name
	}
	return names
}

// readPart returns the bytes of the named part, or nil when it does not exist.
func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

func extractZip(format zipFormat, content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", format.name, err)
	}
	var b strings.Builder
	for _, part := range format.parts(zr) {
		data, err := readPart(zr, part)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", format.name, err)
		}
		if data == nil {
			if format.required {
				return "", fmt.Errorf("extract %s: %s not found", format.name, part)
			}
			continue
		}
		s := string(data)
		for _, re := range format.patterns {
			for _, m := range re.FindAllStringSubmatch(s, -1) {
				text := strings.TrimSpace(html.UnescapeString(m[1]))
				if text == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
	}
	return b.String(), nil
}
