package retrieval

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of chunks sent per embedding request.
	DefaultBatchSize = 100
	// DefaultConcurrency bounds the number of embedding requests in flight.
	DefaultConcurrency = 4
)

// VectorBuildOptions controls BuildVectorIndex.
type VectorBuildOptions struct {
	BatchSize   int
	Concurrency int
}

func (o VectorBuildOptions) withDefaults() VectorBuildOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// BuildVectorIndex embeds every chunk and returns a flat index aligned with
// the chunk sequence. Embedding failures never fail the build: the affected
// positions hold zero vectors. Only a cancelled context aborts it.
func BuildVectorIndex(ctx context.Context, chunks []domain.Chunk, embedder Embedder, opts VectorBuildOptions) (*VectorIndex, error) {
	opts = opts.withDefaults()
	dim := embedder.Dimensions()

	index, err := NewVectorIndex(dim)
	if err != nil {
		return nil, err
	}

	slots := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			embedBatch(gctx, embedder, chunks[start:end], slots[start:end], dim)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("vector index build cancelled: %w", err)
	}

	if err := index.Add(slots...); err != nil {
		return nil, err
	}
	return index, nil
}

// embedBatch fills out (aligned with batch) and substitutes zero vectors for
// anything the embedder could not deliver.
func embedBatch(ctx context.Context, embedder Embedder, batch []domain.Chunk, out [][]float32, dim int) {
	texts := domain.ChunkTexts(batch)
	vectors, err := embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		log.Printf("embedding batch for chunks %d-%d failed, using zero vectors: %v",
			batch[0].Ordinal, batch[len(batch)-1].Ordinal, err)
		telemetry.AddBreadcrumb(ctx, "embedding", fmt.Sprintf("batch %d-%d failed", batch[0].Ordinal, batch[len(batch)-1].Ordinal))
		vectors = nil
	}

	for i := range out {
		if i < len(vectors) && len(vectors[i]) == dim {
			out[i] = vectors[i]
			continue
		}
		if err == nil {
			log.Printf("embedding for chunk %d missing or malformed, using zero vector", batch[i].Ordinal)
		}
		out[i] = make([]float32, dim)
	}
}
