package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/telemetry"
)

// Config holds the collaborators and tuning of an Engine. Each engine gets
// its own tokenizer, embedder and store; nothing is shared implicitly.
type Config struct {
	Tokenizer Tokenizer
	Embedder  Embedder
	Store     *IndexStore

	MaxTokens      int
	FuzzyThreshold float64
	TopK           int
	BatchSize      int
	Concurrency    int
}

// Engine builds, persists and queries course corpora.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg, fills defaults and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("index store is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Build segments documents and builds both indexes without persisting them.
func (e *Engine) Build(ctx context.Context, key domain.CorpusKey, documents []string) (*Corpus, error) {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return nil, err
	}

	text := strings.Join(documents, "\n")
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyCorpus
	}

	start := time.Now()
	chunks := Segment(text, e.cfg.MaxTokens, e.cfg.Tokenizer)
	log.Printf("corpus %s: %d chunks in %s", key, len(chunks), time.Since(start).Round(time.Millisecond))

	vectorStart := time.Now()
	vectors, err := BuildVectorIndex(ctx, chunks, e.cfg.Embedder, VectorBuildOptions{
		BatchSize:   e.cfg.BatchSize,
		Concurrency: e.cfg.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	log.Printf("corpus %s: vector index built in %s", key, time.Since(vectorStart).Round(time.Millisecond))

	lexicalStart := time.Now()
	lexical := BuildLexicalIndex(chunks)
	log.Printf("corpus %s: lexical index with %d quotes built in %s", key, lexical.Len(), time.Since(lexicalStart).Round(time.Millisecond))

	return &Corpus{
		Key:     key,
		Chunks:  chunks,
		Lexical: lexical,
		Vectors: vectors,
	}, nil
}

// ProcessCorpus builds the corpus for key from scratch and persists it,
// replacing any previous revision.
func (e *Engine) ProcessCorpus(ctx context.Context, key domain.CorpusKey, documents []string) error {
	ctx, span := telemetry.StartSpan(ctx, "retrieval.process_corpus", telemetry.SpanAttributes{
		OwnerID:   key.OwnerID,
		CorpusID:  key.CorpusID,
		Operation: "process",
	})
	defer span.End()

	start := time.Now()
	corpus, err := e.Build(ctx, key, documents)
	if err != nil {
		span.SetError(err)
		return err
	}
	span.SetData("chunks", len(corpus.Chunks))

	if err := e.cfg.Store.Save(ctx, corpus); err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to save corpus %s: %w", key, err)
	}

	log.Printf("corpus %s: processed in %s", key, time.Since(start).Round(time.Millisecond))
	return nil
}

// LoadCorpus returns the persisted corpus for key, or domain.ErrIndexNotFound.
func (e *Engine) LoadCorpus(ctx context.Context, key domain.CorpusKey) (*Corpus, error) {
	ctx, span := telemetry.StartSpan(ctx, "retrieval.load_corpus", telemetry.SpanAttributes{
		OwnerID:   key.OwnerID,
		CorpusID:  key.CorpusID,
		Operation: "load",
	})
	defer span.End()

	return e.cfg.Store.Load(ctx, key)
}

// DeleteCorpus removes the persisted artifacts of key.
func (e *Engine) DeleteCorpus(ctx context.Context, key domain.CorpusKey) error {
	return e.cfg.Store.Delete(ctx, key)
}

// Resolve runs the tiered lookup for query. k <= 0 uses the configured TopK.
func (e *Engine) Resolve(ctx context.Context, corpus *Corpus, query string, k int) Resolution {
	if k <= 0 {
		k = e.cfg.TopK
	}
	return Resolve(ctx, corpus, query, k, ResolveOptions{
		Embedder:       e.cfg.Embedder,
		FuzzyThreshold: e.cfg.FuzzyThreshold,
	})
}

// Query returns the text most relevant to query. It always returns some text
// when the corpus has at least one chunk.
func (e *Engine) Query(ctx context.Context, corpus *Corpus, query string, k int) string {
	return e.Resolve(ctx, corpus, query, k).Text
}
