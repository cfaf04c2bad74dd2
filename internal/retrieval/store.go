package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"

	"github.com/cloo-solutions/tutorion/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultKeyPrefix is the root under which corpus artifacts are stored.
	DefaultKeyPrefix = "user_data"
	// DefaultCacheSize is the number of loaded corpora kept in memory.
	DefaultCacheSize = 16

	chunksArtifact  = "chunks.json"
	lexicalArtifact = "lexical_index.json"
	vectorArtifact  = "vector_index.gob"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// IndexStore persists corpora through a BlobStore and keeps recently loaded
// ones in an LRU cache.
//
// Every Save, Delete and Invalidate bumps the generation of its key. A Load
// only caches what it read if the generation did not move while it was
// reading, so a slow Load never puts back a revision that was replaced or
// deleted in the meantime.
type IndexStore struct {
	blobs  BlobStore
	prefix string
	cache  *lru.Cache[domain.CorpusKey, *Corpus]

	mu          sync.Mutex
	generations map[domain.CorpusKey]uint64
}

// IndexStoreConfig configures NewIndexStore.
type IndexStoreConfig struct {
	Prefix    string
	CacheSize int
}

// NewIndexStore creates an IndexStore over blobs.
func NewIndexStore(blobs BlobStore, cfg IndexStoreConfig) (*IndexStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultKeyPrefix
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[domain.CorpusKey, *Corpus](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus cache: %w", err)
	}
	return &IndexStore{
		blobs:       blobs,
		prefix:      cfg.Prefix,
		cache:       cache,
		generations: make(map[domain.CorpusKey]uint64),
	}, nil
}

// ArtifactKeys returns the storage keys of the chunk list, lexical index and
// vector index of a corpus.
func (s *IndexStore) ArtifactKeys(key domain.CorpusKey) (chunks, lexical, vectors string) {
	base := path.Join(s.prefix, key.OwnerID, key.CorpusID)
	return path.Join(base, chunksArtifact), path.Join(base, lexicalArtifact), path.Join(base, vectorArtifact)
}

// Save writes the three artifacts of corpus, replacing any previous revision.
// With an AtomicBlobStore the write is all-or-nothing. Otherwise the artifacts
// are written one by one and, if one fails, those already written are removed
// so the corpus reads as missing instead of as a mix of two revisions.
func (s *IndexStore) Save(ctx context.Context, corpus *Corpus) error {
	if err := domain.ValidateCorpusKey(corpus.Key); err != nil {
		return err
	}
	if corpus.Vectors != nil && corpus.Vectors.Len() != len(corpus.Chunks) {
		return fmt.Errorf("vector index holds %d vectors for %d chunks", corpus.Vectors.Len(), len(corpus.Chunks))
	}

	gen := s.bump(corpus.Key)

	blobs, err := s.encode(corpus)
	if err != nil {
		return err
	}

	if atomic, ok := s.blobs.(AtomicBlobStore); ok {
		if err := atomic.PutAll(ctx, blobs); err != nil {
			return domain.ErrSerialization.WithCause(err)
		}
	} else {
		for i, b := range blobs {
			if err := s.blobs.Put(ctx, b.Key, b.Data, b.ContentType); err != nil {
				s.rollback(ctx, blobs[:i])
				return domain.ErrSerialization.WithCause(fmt.Errorf("write %s: %w", b.Key, err))
			}
		}
	}

	s.cacheIfCurrent(corpus.Key, gen, corpus)
	return nil
}

// bump drops key from the cache and starts a new generation for it.
func (s *IndexStore) bump(key domain.CorpusKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[key]++
	s.cache.Remove(key)
	return s.generations[key]
}

func (s *IndexStore) generation(key domain.CorpusKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[key]
}

// cacheIfCurrent caches corpus unless key moved past gen.
func (s *IndexStore) cacheIfCurrent(key domain.CorpusKey, gen uint64, corpus *Corpus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[key] != gen {
		return false
	}
	s.cache.Add(key, corpus)
	return true
}

func (s *IndexStore) rollback(ctx context.Context, written []Blob) {
	for _, b := range written {
		if err := s.blobs.Delete(ctx, b.Key); err != nil {
			log.Printf("failed to remove partially written artifact %s: %v", b.Key, err)
		}
	}
}

func (s *IndexStore) encode(corpus *Corpus) ([]Blob, error) {
	chunksKey, lexicalKey, vectorKey := s.ArtifactKeys(corpus.Key)

	texts := domain.ChunkTexts(corpus.Chunks)
	chunksData, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunks: %w", err)
	}

	lexical := corpus.Lexical
	if lexical == nil {
		lexical = NewLexicalIndex()
	}
	lexicalData, err := json.Marshal(lexical)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lexical index: %w", err)
	}

	if corpus.Vectors == nil {
		return nil, fmt.Errorf("corpus %s has no vector index", corpus.Key)
	}
	vectorData, err := corpus.Vectors.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return []Blob{
		{Key: vectorKey, Data: vectorData, ContentType: contentTypeBinary},
		{Key: lexicalKey, Data: lexicalData, ContentType: contentTypeJSON},
		{Key: chunksKey, Data: chunksData, ContentType: contentTypeJSON},
	}, nil
}

// Load returns the corpus for key, from cache when possible. It returns
// domain.ErrIndexNotFound when any artifact is missing or unreadable, which
// callers treat as a signal to rebuild.
func (s *IndexStore) Load(ctx context.Context, key domain.CorpusKey) (*Corpus, error) {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return nil, err
	}
	if corpus, ok := s.cache.Get(key); ok {
		return corpus, nil
	}
	gen := s.generation(key)

	chunksKey, lexicalKey, vectorKey := s.ArtifactKeys(key)

	chunksData, err := s.get(ctx, chunksKey)
	if err != nil {
		return nil, err
	}
	var texts []string
	if err := json.Unmarshal(chunksData, &texts); err != nil {
		return nil, domain.ErrIndexNotFound.WithCause(fmt.Errorf("decode %s: %w", chunksKey, err))
	}

	lexicalData, err := s.get(ctx, lexicalKey)
	if err != nil {
		return nil, err
	}
	lexical := NewLexicalIndex()
	if err := json.Unmarshal(lexicalData, lexical); err != nil {
		return nil, domain.ErrIndexNotFound.WithCause(fmt.Errorf("decode %s: %w", lexicalKey, err))
	}

	vectorData, err := s.get(ctx, vectorKey)
	if err != nil {
		return nil, err
	}
	vectors := &VectorIndex{}
	if err := vectors.UnmarshalBinary(vectorData); err != nil {
		return nil, domain.ErrIndexNotFound.WithCause(fmt.Errorf("decode %s: %w", vectorKey, err))
	}

	if vectors.Len() != len(texts) {
		return nil, domain.ErrIndexNotFound.WithCause(
			fmt.Errorf("vector index holds %d vectors for %d chunks", vectors.Len(), len(texts)))
	}

	corpus := &Corpus{
		Key:     key,
		Chunks:  domain.ChunksFromTexts(texts),
		Lexical: lexical,
		Vectors: vectors,
	}
	if !s.cacheIfCurrent(key, gen, corpus) {
		log.Printf("corpus %s changed while loading, not caching the revision read", key)
	}
	return corpus, nil
}

func (s *IndexStore) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			return nil, domain.ErrIndexNotFound.WithCause(fmt.Errorf("missing %s", key))
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the artifacts of key and its cache entry. Missing artifacts
// are not an error.
func (s *IndexStore) Delete(ctx context.Context, key domain.CorpusKey) error {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return err
	}
	s.bump(key)

	chunksKey, lexicalKey, vectorKey := s.ArtifactKeys(key)
	var errs []error
	for _, k := range []string{chunksKey, lexicalKey, vectorKey} {
		if err := s.blobs.Delete(ctx, k); err != nil && !errors.Is(err, domain.ErrBlobNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Invalidate drops key from the cache.
func (s *IndexStore) Invalidate(key domain.CorpusKey) {
	s.bump(key)
}

// Cached reports whether key is currently cached.
func (s *IndexStore) Cached(key domain.CorpusKey) bool {
	return s.cache.Contains(key)
}
