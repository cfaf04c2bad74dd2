// Package documents discovers the plain-text source documents of a course.
package documents

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

// Extension is the suffix of the files treated as course documents.
const Extension = ".txt"

// Lister is the part of a blob store a Source reads from. storage.S3Client,
// storage.FilesystemStore and storage.MemoryStore all satisfy it.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Source returns every .txt document stored under
// <prefix>/<owner>/<corpus>/, in key order.
type Source struct {
	store  Lister
	prefix string
}

func NewSource(store Lister, prefix string) *Source {
	return &Source{store: store, prefix: prefix}
}

// Prefix returns the folder a corpus' documents live in, with a trailing slash.
func (s *Source) Prefix(key domain.CorpusKey) string {
	return path.Join(s.prefix, key.OwnerID, key.CorpusID) + "/"
}

// Documents returns the text of every document of key. A corpus with no
// documents yields an empty slice, not an error.
func (s *Source) Documents(ctx context.Context, key domain.CorpusKey) ([]string, error) {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return nil, err
	}

	prefix := s.Prefix(key)
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", key, err)
	}

	var docKeys []string
	for _, k := range keys {
		if strings.HasSuffix(strings.ToLower(k), Extension) {
			docKeys = append(docKeys, k)
		}
	}
	sort.Strings(docKeys)

	docs := make([]string, 0, len(docKeys))
	for _, k := range docKeys {
		data, err := s.store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", k, err)
		}
		docs = append(docs, string(data))
	}

	log.Printf("corpus %s: found %d documents under %s", key, len(docs), prefix)
	return docs, nil
}
