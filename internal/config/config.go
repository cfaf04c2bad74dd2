package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendS3         = "s3"
	BackendPostgres   = "postgres"
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// StorageBackend selects where documents and index artifacts live.
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"filesystem"`
	StoragePrefix  string `envconfig:"STORAGE_PREFIX" default:"user_data"`
	DataDir        string `envconfig:"DATA_DIR" default:"./uploads"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"tutorion-courses"`
	S3Region    string `envconfig:"S3_REGION" default:"ca-central-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"3072"`
	QueryCacheSize      int    `envconfig:"QUERY_CACHE_SIZE" default:"1024"`

	TokenizerModel string  `envconfig:"TOKENIZER_MODEL" default:"gpt-4"`
	MaxChunkTokens int     `envconfig:"MAX_CHUNK_TOKENS" default:"2000"`
	FuzzyThreshold float64 `envconfig:"FUZZY_THRESHOLD" default:"0.65"`
	TopK           int     `envconfig:"TOP_K" default:"5"`

	EmbedBatchSize   int `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	EmbedConcurrency int `envconfig:"EMBED_CONCURRENCY" default:"4"`
	CorpusCacheSize  int `envconfig:"CORPUS_CACHE_SIZE" default:"16"`

	RebuildPollInterval time.Duration `envconfig:"REBUILD_POLL_INTERVAL" default:"2s"`
	RebuildQueueSize    int           `envconfig:"REBUILD_QUEUE_SIZE" default:"256"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("TUTORION", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks the settings the selected backend depends on.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendFilesystem:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the filesystem backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.StoragePrefix == "" {
		return fmt.Errorf("STORAGE_PREFIX cannot be empty")
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold >= 1 {
		return fmt.Errorf("FUZZY_THRESHOLD must be in (0, 1), got %v", c.FuzzyThreshold)
	}
	if c.MaxChunkTokens <= 0 {
		return fmt.Errorf("MAX_CHUNK_TOKENS must be positive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	return nil
}

func (c *Config) HasS3Credentials() bool {
	return c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}
