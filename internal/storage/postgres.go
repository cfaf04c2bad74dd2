package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/retrieval"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps blobs in the corpus_artifacts table. PutAll writes in
// a single transaction, so a corpus is never left half-saved.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return putArtifact(ctx, s.pool, key, data, contentType)
}

func (s *PostgresStore) PutAll(ctx context.Context, blobs []retrieval.Blob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, b := range blobs {
		if err := putArtifact(ctx, tx, b.Key, b.Data, b.ContentType); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit artifacts: %w", err)
	}
	return nil
}

func putArtifact(ctx context.Context, db dbtx, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := db.Exec(ctx,
		`INSERT INTO corpus_artifacts (key, content_type, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET content_type = EXCLUDED.content_type,
		     data = EXCLUDED.data,
		     updated_at = EXCLUDED.updated_at`,
		key, contentType, data,
	)
	if err != nil {
		return fmt.Errorf("failed to put artifact %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM corpus_artifacts WHERE key = $1`,
		key,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBlobNotFound.WithCause(fmt.Errorf("artifact %s", key))
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM corpus_artifacts WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", key, err)
	}
	return nil
}
