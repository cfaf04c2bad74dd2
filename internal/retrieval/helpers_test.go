package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

// wordTokenizer counts whitespace separated words.
var wordTokenizer = TokenizerFunc(func(text string) int {
	return len(strings.Fields(text))
})

// bagEmbedder hashes lowercase words into dim buckets and normalizes the
// result, so texts sharing words end up close to each other.
type bagEmbedder struct {
	dim int

	mu    sync.Mutex
	calls int
}

func newBagEmbedder() *bagEmbedder {
	return &bagEmbedder{dim: 1024}
}

func (e *bagEmbedder) Dimensions() int { return e.dim }

func (e *bagEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *bagEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *bagEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// failingEmbedder fails every call.
type failingEmbedder struct {
	dim int
}

var errEmbeddingDown = errors.New("embedding service down")

func (e failingEmbedder) Dimensions() int { return e.dim }

func (e failingEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingDown
}

func (e failingEmbedder) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, errEmbeddingDown
}

// funcEmbedder delegates batches to a function.
type funcEmbedder struct {
	dim   int
	batch func(ctx context.Context, texts []string) ([][]float32, error)
}

func (e funcEmbedder) Dimensions() int { return e.dim }

func (e funcEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.batch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e funcEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return e.batch(ctx, texts)
}

// memoryBlobs is an in-memory BlobStore. failOn makes Put fail for keys with
// that suffix.
type memoryBlobs struct {
	mu     sync.Mutex
	data   map[string][]byte
	failOn string
	puts   int
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{data: make(map[string][]byte)}
}

var errPutFailed = errors.New("put failed")

func (m *memoryBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errPutFailed
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, domain.ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryBlobs) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// atomicMemoryBlobs adds PutAll to memoryBlobs.
type atomicMemoryBlobs struct {
	*memoryBlobs
	putAlls int
}

func (m *atomicMemoryBlobs) PutAll(_ context.Context, blobs []Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putAlls++
	for _, b := range blobs {
		if m.failOn != "" && strings.HasSuffix(b.Key, m.failOn) {
			return errPutFailed
		}
	}
	for _, b := range blobs {
		m.data[b.Key] = append([]byte(nil), b.Data...)
	}
	return nil
}

var testKey = domain.CorpusKey{OwnerID: "user-1", CorpusID: "hamlet"}

// buildTestCorpus builds a corpus from texts with the bag embedder.
func buildTestCorpus(texts ...string) *Corpus {
	chunks := domain.ChunksFromTexts(texts)
	vectors, err := BuildVectorIndex(context.Background(), chunks, newBagEmbedder(), VectorBuildOptions{})
	if err != nil {
		panic(err)
	}
	return &Corpus{
		Key:     testKey,
		Chunks:  chunks,
		Lexical: BuildLexicalIndex(chunks),
		Vectors: vectors,
	}
}

// gatedBlobs pauses the next Get of a vector index until release is closed,
// after signalling reached.
type gatedBlobs struct {
	*memoryBlobs
	gateMu  sync.Mutex
	armed   bool
	reached chan struct{}
	release chan struct{}
}

func newGatedBlobs() *gatedBlobs {
	return &gatedBlobs{
		memoryBlobs: newMemoryBlobs(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedBlobs) arm() {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	g.armed = true
}

func (g *gatedBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := g.memoryBlobs.Get(ctx, key)

	g.gateMu.Lock()
	wait := g.armed && strings.HasSuffix(key, vectorArtifact)
	if wait {
		g.armed = false
	}
	g.gateMu.Unlock()

	if wait {
		close(g.reached)
		<-g.release
	}
	return data, err
}
