package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/tutorion/internal/config"
	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/jobs"
	"github.com/cloo-solutions/tutorion/internal/retrieval"
	"github.com/cloo-solutions/tutorion/internal/service"
)

// fakeEmbeddingServer answers the OpenAI embeddings endpoint with a constant
// vector per input.
func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{1, 0, 0, 0},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	srv := fakeEmbeddingServer(t)
	return &config.Config{
		StorageBackend:      backend,
		StoragePrefix:       "user_data",
		DataDir:             t.TempDir(),
		OpenAIAPIKey:        "sk-test",
		OpenAIBaseURL:       srv.URL,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 4,
		QueryCacheSize:      16,
		TokenizerModel:      "gpt-4",
		MaxChunkTokens:      2000,
		FuzzyThreshold:      0.65,
		TopK:                5,
		EmbedBatchSize:      10,
		EmbedConcurrency:    2,
		CorpusCacheSize:     4,
		RebuildQueueSize:    8,
	}
}

func writeDocument(t *testing.T, cfg *config.Config, key domain.CorpusKey, name, text string) {
	t.Helper()
	dir := filepath.Join(cfg.DataDir, cfg.StoragePrefix, key.OwnerID, key.CorpusID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func TestNewRuntime_FilesystemBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendFilesystem)
	key := domain.CorpusKey{OwnerID: "user-1", CorpusID: "hamlet"}
	writeDocument(t, cfg, key, "01.txt", "\"To be or not to be\" is a famous line.")
	writeDocument(t, cfg, key, "02.txt", "It was written by Shakespeare.")
	writeDocument(t, cfg, key, "notes.md", "ignored")

	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Pool)
	assert.IsType(t, &jobs.MemoryQueue{}, rt.Queue)

	require.NoError(t, rt.Service.Rebuild(ctx, key))

	for _, name := range []string{"chunks.json", "lexical_index.json", "vector_index.gob"} {
		assert.FileExists(t, filepath.Join(cfg.DataDir, "user_data", "user-1", "hamlet", name))
	}

	out, err := rt.Service.Retrieve(ctx, service.RetrieveInput{Key: key, Query: "\"to be or not to be\" is a famous line."})
	require.NoError(t, err)
	assert.Equal(t, retrieval.TierExact, out.Tier)
	assert.Equal(t, "\"To be or not to be\" is a famous line.\nIt was written by Shakespeare.", out.Text)

	out, err = rt.Service.Retrieve(ctx, service.RetrieveInput{Key: key, Query: "who wrote it?"})
	require.NoError(t, err)
	assert.Equal(t, retrieval.TierSemantic, out.Tier)
}

func TestNewRuntime_MemoryBackendHasNoDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendMemory)

	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	require.NoError(t, err)
	defer rt.Close()

	err = rt.Service.Rebuild(ctx, domain.CorpusKey{OwnerID: "u", CorpusID: "c"})
	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)
}

func TestNewRuntime_PostgresBackendRequiresDatabase(t *testing.T) {
	cfg := testConfig(t, config.BackendPostgres)

	_, err := newRuntime(context.Background(), cfg, runtimeOptions{})

	assert.Error(t, err)
}

func TestNewRuntime_UnknownTokenizerModel(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.TokenizerModel = "no-such-model"

	_, err := newRuntime(context.Background(), cfg, runtimeOptions{})

	assert.Error(t, err)
}

func TestCommands_Schema(t *testing.T) {
	for _, cmd := range []interface{ Name() string }{ServeCmd(), ProcessCmd(), QueryCmd(), DeleteCmd()} {
		assert.NotEmpty(t, cmd.Name())
	}

	query := QueryCmd()
	flag := query.Flags().Lookup("top-k")
	require.NotNil(t, flag)
	assert.Equal(t, "k", flag.Shorthand)
	assert.Error(t, query.Args(query, []string{"only-owner"}))
}
