package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultFuzzyThreshold is the similarity a fuzzy match must exceed.
const DefaultFuzzyThreshold = 0.65

// LexicalIndex maps normalized quote lines to the ordinal of the chunk that
// contains them. Keys keep their first insertion position; re-inserting an
// existing key only replaces its ordinal.
type LexicalIndex struct {
	keys     []string
	ordinals map[string]int
}

// NewLexicalIndex returns an empty index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{ordinals: make(map[string]int)}
}

// BuildLexicalIndex indexes every quote line of every chunk. A quote that
// appears in several chunks points at the last of them.
func BuildLexicalIndex(chunks []domain.Chunk) *LexicalIndex {
	idx := NewLexicalIndex()
	for _, c := range chunks {
		for _, q := range ExtractQuotes(c.Text) {
			idx.Set(q, c.Ordinal)
		}
	}
	return idx
}

// ExtractQuotes returns the lines of text whose first non-space character is
// a double quote.
func ExtractQuotes(text string) []string {
	var quotes []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), `"`) {
			quotes = append(quotes, line)
		}
	}
	return quotes
}

// Normalize is applied to index keys and queries alike.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Set maps quote to ordinal.
func (l *LexicalIndex) Set(quote string, ordinal int) {
	key := Normalize(quote)
	if _, ok := l.ordinals[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.ordinals[key] = ordinal
}

// Len returns the number of distinct quotes.
func (l *LexicalIndex) Len() int {
	if l == nil {
		return 0
	}
	return len(l.keys)
}

// Keys returns the normalized quotes in insertion order.
func (l *LexicalIndex) Keys() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out
}

// Exact looks query up verbatim after normalization.
func (l *LexicalIndex) Exact(query string) (int, bool) {
	if l == nil {
		return 0, false
	}
	ordinal, ok := l.ordinals[Normalize(query)]
	return ordinal, ok
}

// Fuzzy returns the ordinal of the key most similar to query, provided its
// similarity is strictly greater than threshold. On equal similarity the key
// inserted first wins.
func (l *LexicalIndex) Fuzzy(query string, threshold float64) (ordinal int, score float64, ok bool) {
	if l == nil {
		return 0, 0, false
	}
	q := Normalize(query)
	best := threshold
	for _, key := range l.keys {
		s := Similarity(q, key)
		if s > best {
			best = s
			ordinal = l.ordinals[key]
			score = s
			ok = true
		}
	}
	return ordinal, score, ok
}

// Similarity is the difflib SequenceMatcher ratio of a and b compared rune by
// rune: 2*M/T where M is the number of matched runes and T the total.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(runeStrings(a), runeStrings(b))
	return m.Ratio()
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// MarshalJSON writes the index as a flat JSON object in insertion order.
func (l *LexicalIndex) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range l.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		fmt.Fprintf(&buf, ":%d", l.ordinals[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, preserving key order.
func (l *LexicalIndex) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("lexical index: expected object")
	}

	fresh := NewLexicalIndex()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("lexical index: expected string key")
		}
		var ordinal int
		if err := dec.Decode(&ordinal); err != nil {
			return fmt.Errorf("lexical index: value for %q: %w", key, err)
		}
		fresh.Set(key, ordinal)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*l = *fresh
	return nil
}
