package retrieval

import (
	"context"
	"log"
	"strings"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

// DefaultTopK is the number of chunks the semantic tier returns.
const DefaultTopK = 5

// Tier names the resolution stage that produced a result.
type Tier string

const (
	TierExact    Tier = "exact"
	TierFuzzy    Tier = "fuzzy"
	TierSemantic Tier = "semantic"
	TierFallback Tier = "fallback"
	TierEmpty    Tier = "empty"
)

// Corpus is a loaded, immutable set of chunks and their two indexes. It is
// safe for concurrent queries.
type Corpus struct {
	Key     domain.CorpusKey
	Chunks  []domain.Chunk
	Lexical *LexicalIndex
	Vectors *VectorIndex
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Text     string
	Tier     Tier
	Ordinals []int
	Score    float64
}

// ResolveOptions controls Resolve.
type ResolveOptions struct {
	Embedder       Embedder
	FuzzyThreshold float64
}

// Resolve answers query against corpus: an exact quote match, then the best
// fuzzy quote match, then the k nearest chunks by embedding. If the semantic
// tier cannot run, the first chunk is returned, and an empty corpus yields "".
// Resolve never fails.
func Resolve(ctx context.Context, corpus *Corpus, query string, k int, opts ResolveOptions) Resolution {
	if corpus == nil || len(corpus.Chunks) == 0 {
		return Resolution{Tier: TierEmpty}
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}

	if ordinal, ok := corpus.Lexical.Exact(query); ok && validOrdinal(corpus, ordinal) {
		return Resolution{Text: corpus.Chunks[ordinal].Text, Tier: TierExact, Ordinals: []int{ordinal}, Score: 1}
	}

	if ordinal, score, ok := corpus.Lexical.Fuzzy(query, opts.FuzzyThreshold); ok && validOrdinal(corpus, ordinal) {
		return Resolution{Text: corpus.Chunks[ordinal].Text, Tier: TierFuzzy, Ordinals: []int{ordinal}, Score: score}
	}

	if res, ok := resolveSemantic(ctx, corpus, query, k, opts.Embedder); ok {
		return res
	}

	return Resolution{Text: corpus.Chunks[0].Text, Tier: TierFallback, Ordinals: []int{0}}
}

func resolveSemantic(ctx context.Context, corpus *Corpus, query string, k int, embedder Embedder) (Resolution, bool) {
	if embedder == nil || corpus.Vectors == nil || corpus.Vectors.Len() == 0 {
		log.Printf("semantic search unavailable for corpus %s, falling back to first chunk", corpus.Key)
		return Resolution{}, false
	}

	vec, err := embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Printf("query embedding failed for corpus %s, falling back to first chunk: %v", corpus.Key, err)
		return Resolution{}, false
	}

	hits, err := corpus.Vectors.Search(vec, k)
	if err != nil {
		log.Printf("vector search failed for corpus %s, falling back to first chunk: %v", corpus.Key, err)
		return Resolution{}, false
	}

	texts := make([]string, 0, len(hits))
	ordinals := make([]int, 0, len(hits))
	for _, h := range hits {
		if !validOrdinal(corpus, h.Ordinal) {
			continue
		}
		texts = append(texts, corpus.Chunks[h.Ordinal].Text)
		ordinals = append(ordinals, h.Ordinal)
	}
	if len(texts) == 0 {
		return Resolution{}, false
	}

	return Resolution{Text: strings.Join(texts, "\n\n"), Tier: TierSemantic, Ordinals: ordinals}, true
}

func validOrdinal(c *Corpus, ordinal int) bool {
	return ordinal >= 0 && ordinal < len(c.Chunks)
}
