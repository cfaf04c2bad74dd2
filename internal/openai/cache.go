package openai

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize is the number of query embeddings CachedClient keeps.
const DefaultQueryCacheSize = 1024

// Embedder is the client surface CachedClient wraps.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// CachedClient memoizes single-text embeddings, which is what query
// resolution asks for. Batch calls pass straight through.
type CachedClient struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedClient wraps next with an LRU of the given size.
func NewCachedClient(next Embedder, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedClient{next: next, cache: cache}, nil
}

func (c *CachedClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := c.next.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, vec)
	return vec, nil
}

func (c *CachedClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.GenerateEmbeddings(ctx, texts)
}

func (c *CachedClient) Dimensions() int {
	return c.next.Dimensions()
}

// Len returns the number of cached embeddings.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}
