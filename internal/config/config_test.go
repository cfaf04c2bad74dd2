package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithEnvVars(t *testing.T) {
	t.Setenv("TUTORION_PORT", "9090")
	t.Setenv("TUTORION_DEBUG", "true")
	t.Setenv("TUTORION_STORAGE_BACKEND", "s3")
	t.Setenv("TUTORION_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("TUTORION_S3_ACCESS_KEY_ID", "key")
	t.Setenv("TUTORION_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("TUTORION_OPENAI_API_KEY", "sk-test")
	t.Setenv("TUTORION_MAX_CHUNK_TOKENS", "500")
	t.Setenv("TUTORION_FUZZY_THRESHOLD", "0.8")
	t.Setenv("TUTORION_REBUILD_POLL_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, BackendS3, cfg.StorageBackend)
	assert.Equal(t, "http://localhost:9000", cfg.S3Endpoint)
	assert.True(t, cfg.HasS3Credentials())
	assert.True(t, cfg.HasOpenAI())
	assert.Equal(t, 500, cfg.MaxChunkTokens)
	assert.Equal(t, 0.8, cfg.FuzzyThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.RebuildPollInterval)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, BackendFilesystem, cfg.StorageBackend)
	assert.Equal(t, "user_data", cfg.StoragePrefix)
	assert.Equal(t, "./uploads", cfg.DataDir)
	assert.Equal(t, "tutorion-courses", cfg.S3Bucket)
	assert.Equal(t, "ca-central-1", cfg.S3Region)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel)
	assert.Equal(t, 3072, cfg.EmbeddingDimensions)
	assert.Equal(t, "gpt-4", cfg.TokenizerModel)
	assert.Equal(t, 2000, cfg.MaxChunkTokens)
	assert.Equal(t, 0.65, cfg.FuzzyThreshold)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 100, cfg.EmbedBatchSize)
	assert.Equal(t, 4, cfg.EmbedConcurrency)
	assert.Equal(t, 16, cfg.CorpusCacheSize)
	assert.Equal(t, 2*time.Second, cfg.RebuildPollInterval)
	assert.False(t, cfg.HasDatabase())
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("TUTORION_STORAGE_BACKEND", "postgres")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StorageBackend:      BackendMemory,
			StoragePrefix:       "user_data",
			FuzzyThreshold:      0.65,
			MaxChunkTokens:      2000,
			EmbeddingDimensions: 3072,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid memory", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StorageBackend = "ftp" }, "unknown STORAGE_BACKEND"},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = BackendS3 }, "S3_BUCKET"},
		{"filesystem without dir", func(c *Config) { c.StorageBackend = BackendFilesystem }, "DATA_DIR"},
		{"empty prefix", func(c *Config) { c.StoragePrefix = "" }, "STORAGE_PREFIX"},
		{"threshold of one", func(c *Config) { c.FuzzyThreshold = 1 }, "FUZZY_THRESHOLD"},
		{"threshold of zero", func(c *Config) { c.FuzzyThreshold = 0 }, "FUZZY_THRESHOLD"},
		{"negative threshold", func(c *Config) { c.FuzzyThreshold = -0.1 }, "FUZZY_THRESHOLD"},
		{"zero chunk tokens", func(c *Config) { c.MaxChunkTokens = 0 }, "MAX_CHUNK_TOKENS"},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }, "EMBEDDING_DIMENSIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
