package indexer

import (
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 3, 0, nil},
		{"whitespace only", "  \n\t ", 3, 0, nil},
		{"shorter than size", "one two", 3, 0, []string{"one two"}},
		{"exact multiple", "a b c d e f", 3, 0, []string{"a b c", "d e f"}},
		{"short tail", "a b c d e f g", 3, 0, []string{"a b c", "d e f", "g"}},
		{"overlap", "a b c d e", 3, 1, []string{"a b c", "c d e"}},
		{"invalid overlap ignored", "a b c d", 2, 2, []string{"a b", "c d"}},
		{"collapses whitespace", "a\n\nb\tc", 5, 0, []string{"a b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.size, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("Split() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplit_BoundedAndConservesWords(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 41)
	source := len(strings.Fields(text))
	for _, size := range []int{1, 2, 7, 50, 1000} {
		chunks := Split(text, size, 0)
		total := 0
		for _, c := range chunks {
			n := len(strings.Fields(c))
			if n > size {
				t.Errorf("size %d: chunk has %d words", size, n)
			}
			total += n
		}
		if total != source {
			t.Errorf("size %d: %d words across chunks, source has %d", size, total, source)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	a := Split(text, 4, 1)
	b := Split(text, 4, 1)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Errorf("Split is not deterministic: %q vs %q", a, b)
	}
}

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(3, 1)
	chunks := c.Chunk("doc1", "one two three four five six seven")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d DocumentID=%s", i, ch.DocumentID)
		}
		if ch.Ordinal != i {
			t.Errorf("chunk %d Ordinal=%d", i, ch.Ordinal)
		}
		if ch.ID != ChunkID("doc1", i) {
			t.Errorf("chunk %d ID=%s", i, ch.ID)
		}
	}
	again := c.Chunk("doc1", "one two three four five six seven")
	for i := range chunks {
		if chunks[i].ID != again[i].ID || chunks[i].Text != again[i].Text {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(5, 1)
	chunks := c.Chunk("d", "   \n\t  ")
	if chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_Records(t *testing.T) {
	c := NewChunker(4, 2)
	chunks := c.Records("csv", []string{
		"name: Ada, role: engineer",
		"name: Grace, role: admiral, team: navy",
		"",
	})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "name: Ada, role: engineer" {
		t.Errorf("first record = %q", chunks[0].Text)
	}
	if chunks[1].Text != "name: Grace, role: admiral," || chunks[2].Text != "team: navy" {
		t.Errorf("long record split as %q / %q", chunks[1].Text, chunks[2].Text)
	}
	if chunks[2].ID != "csv#2" {
		t.Errorf("ordinals should run across records, got %s", chunks[2].ID)
	}
}

func TestPreprocess(t *testing.T) {
	tests := map[string]string{
		"  a  b  ":              "a b",
		"\uFEFFtitle\n\nbody":   "title body",
		"tab\there\x00 nul\x07": "tab here nul",
		"":                      "",
	}
	for in, want := range tests {
		if got := Preprocess(in); got != want {
			t.Errorf("Preprocess(%q) = %q, want %q", in, got, want)
		}
	}
}
