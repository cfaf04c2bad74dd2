package domain

import (
	"fmt"
	"strings"
)

// CorpusKey identifies the indexed source material of one course.
type CorpusKey struct {
	OwnerID  string
	CorpusID string
}

// NewCorpusKey creates a CorpusKey and validates it.
func NewCorpusKey(ownerID, corpusID string) (CorpusKey, error) {
	key := CorpusKey{
		OwnerID:  strings.TrimSpace(ownerID),
		CorpusID: strings.TrimSpace(corpusID),
	}
	if err := ValidateCorpusKey(key); err != nil {
		return CorpusKey{}, err
	}
	return key, nil
}

// String returns "owner/corpus".
func (k CorpusKey) String() string {
	return k.OwnerID + "/" + k.CorpusID
}

// ValidateCorpusKey validates a CorpusKey. Both parts end up in storage keys,
// so neither may be empty or contain a path separator.
func ValidateCorpusKey(k CorpusKey) error {
	if k.OwnerID == "" {
		return ErrInvalidCorpusKey.WithCause(fmt.Errorf("owner id is required"))
	}
	if k.CorpusID == "" {
		return ErrInvalidCorpusKey.WithCause(fmt.Errorf("corpus id is required"))
	}
	for _, part := range []string{k.OwnerID, k.CorpusID} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return ErrInvalidCorpusKey.WithCause(fmt.Errorf("invalid path segment %q", part))
		}
	}
	return nil
}

// Chunk is a contiguous, token-bounded slice of a course's source text.
// Ordinal is its position in the chunk sequence and joins it to both indexes.
type Chunk struct {
	Ordinal int
	Text    string
}

// ChunkTexts returns the texts of chunks in order.
func ChunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

// ChunksFromTexts assigns ordinals by position.
func ChunksFromTexts(texts []string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Ordinal: i, Text: t}
	}
	return chunks
}
