package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/tutorion/internal/config"
	"github.com/cloo-solutions/tutorion/internal/database"
	"github.com/cloo-solutions/tutorion/internal/documents"
	"github.com/cloo-solutions/tutorion/internal/jobs"
	"github.com/cloo-solutions/tutorion/internal/openai"
	"github.com/cloo-solutions/tutorion/internal/repository"
	"github.com/cloo-solutions/tutorion/internal/retrieval"
	"github.com/cloo-solutions/tutorion/internal/service"
	"github.com/cloo-solutions/tutorion/internal/storage"
	"github.com/cloo-solutions/tutorion/internal/tokenizer"
)

// rebuildQueue is what both the Postgres repository and the in-memory queue
// offer to the service and the worker.
type rebuildQueue interface {
	service.RebuildQueue
	jobs.RebuildJobRepository
}

// Runtime holds everything a command needs to build and query corpora.
type Runtime struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Engine  *retrieval.Engine
	Service *service.CourseContextService
	Queue   rebuildQueue
}

type runtimeOptions struct {
	Migrate bool
}

// newRuntime wires the storage backend, embedding client, tokenizer, engine
// and service selected by cfg.
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.Pool = pool
		log.Println("connected to database")

		if opts.Migrate {
			if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				rt.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
	}

	blobs, docs, err := rt.openStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	tok, err := tokenizer.New(cfg.TokenizerModel)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if !cfg.HasOpenAI() {
		log.Println("OPENAI_API_KEY not set: embeddings will fail and queries fall back past the semantic tier")
	}
	embeddings := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	embedder, err := openai.NewCachedClient(embeddings, cfg.QueryCacheSize)
	if err != nil {
		rt.Close()
		return nil, err
	}

	indexStore, err := retrieval.NewIndexStore(blobs, retrieval.IndexStoreConfig{
		Prefix:    cfg.StoragePrefix,
		CacheSize: cfg.CorpusCacheSize,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Engine, err = retrieval.NewEngine(retrieval.Config{
		Tokenizer:      tok,
		Embedder:       embedder,
		Store:          indexStore,
		MaxTokens:      cfg.MaxChunkTokens,
		FuzzyThreshold: cfg.FuzzyThreshold,
		TopK:           cfg.TopK,
		BatchSize:      cfg.EmbedBatchSize,
		Concurrency:    cfg.EmbedConcurrency,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	if rt.Pool != nil {
		rt.Queue = repository.NewRebuildJobRepository(rt.Pool)
	} else {
		rt.Queue = jobs.NewMemoryQueue(cfg.RebuildQueueSize)
	}

	rt.Service = service.NewCourseContextService(rt.Engine, documents.NewSource(docs, cfg.StoragePrefix))
	return rt, nil
}

// openStorage returns the artifact store and the store documents are listed
// from. Postgres keeps artifacts only, so documents come from DATA_DIR.
func (rt *Runtime) openStorage(ctx context.Context) (retrieval.BlobStore, documents.Lister, error) {
	cfg := rt.Config

	switch cfg.StorageBackend {
	case config.BackendS3:
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    cfg.S3Endpoint != "",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		return s3Client, s3Client, nil

	case config.BackendPostgres:
		if rt.Pool == nil {
			return nil, nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		fs, err := storage.NewFilesystemStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("artifacts in postgres, documents in %s", fs.Root())
		return storage.NewPostgresStore(rt.Pool), fs, nil

	case config.BackendFilesystem:
		fs, err := storage.NewFilesystemStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("using data directory %s", fs.Root())
		return fs, fs, nil

	case config.BackendMemory:
		mem := storage.NewMemoryStore()
		return mem, mem, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// Close releases the database pool, if any.
func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
