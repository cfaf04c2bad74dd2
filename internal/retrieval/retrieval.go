// Package retrieval implements the course-context retrieval engine: it splits
// course documents into token-bounded chunks, indexes them lexically (quoted
// lines, exact and fuzzy) and semantically (flat L2 vector index), persists
// the three artifacts through a blob store, and answers free-text queries with
// a tiered exact, fuzzy, semantic and fallback policy.
package retrieval

import (
	"context"
)

// Tokenizer counts tokens with a fixed vocabulary so chunk limits are stable
// across runs.
type Tokenizer interface {
	CountTokens(text string) int
}

// Embedder produces dense vectors of a fixed dimension.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// BlobStore is the durable key/value store the index artifacts live in.
// Get returns domain.ErrBlobNotFound for a missing key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// AtomicBlobStore is a BlobStore that can write several blobs all-or-nothing.
type AtomicBlobStore interface {
	BlobStore
	PutAll(ctx context.Context, blobs []Blob) error
}

// Blob is a single object written through PutAll.
type Blob struct {
	Key         string
	Data        []byte
	ContentType string
}

// TokenizerFunc adapts a plain function to the Tokenizer interface.
type TokenizerFunc func(text string) int

// CountTokens calls f(text).
func (f TokenizerFunc) CountTokens(text string) int {
	return f(text)
}
