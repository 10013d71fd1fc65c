package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	defaultMaxTokens = 256
	defaultVocabSize = 30000

	tokenPAD = 0
	tokenCLS = 101
	tokenSEP = 102

	// firstWordID keeps hashed word IDs clear of the special tokens.
	firstWordID = 1000
)

// Encoding is the fixed-length BERT-style model input for one text.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Tokenizer turns text into a padded Encoding of exactly maxTokens positions.
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

// HashTokenizer maps lowercase words to hashed vocabulary IDs. It needs no vocabulary file,
// which makes it usable with any model whose embedding table is at least vocabSize rows.
type HashTokenizer struct {
	vocabSize int
}

// NewHashTokenizer returns a tokenizer with the given vocabulary size, or 30000 when vocabSize
// does not leave room above the special tokens.
func NewHashTokenizer(vocabSize int) *HashTokenizer {
	if vocabSize <= firstWordID {
		vocabSize = defaultVocabSize
	}
	return &HashTokenizer{vocabSize: vocabSize}
}

// Encode wraps the words of text in [CLS] ... [SEP], truncating so [SEP] always fits.
func (t *HashTokenizer) Encode(text string, maxTokens int) Encoding {
	if maxTokens < 2 {
		maxTokens = defaultMaxTokens
	}
	enc := Encoding{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	ids := []int64{tokenCLS}
	for _, w := range SplitWords(text) {
		if len(ids) == maxTokens-1 {
			break
		}
		ids = append(ids, t.wordID(w))
	}
	ids = append(ids, tokenSEP)
	for i, id := range ids {
		enc.InputIDs[i] = id
		enc.AttentionMask[i] = 1
	}
	for i := len(ids); i < maxTokens; i++ {
		enc.InputIDs[i] = tokenPAD
	}
	return enc
}

func (t *HashTokenizer) wordID(w string) int64 {
	span := t.vocabSize - firstWordID
	return int64(firstWordID + HashString(w)%span)
}

// SplitWords lowercases text and splits it into runs of letters and digits. It returns nil
// when there are none.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString is a stable non-negative FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
