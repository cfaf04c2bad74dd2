package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/tutorion/internal/api/handlers"
	"github.com/cloo-solutions/tutorion/internal/documents"
	"github.com/cloo-solutions/tutorion/internal/jobs"
	"github.com/cloo-solutions/tutorion/internal/retrieval"
	"github.com/cloo-solutions/tutorion/internal/service"
	"github.com/cloo-solutions/tutorion/internal/storage"
)

// constantEmbedder maps every text to the same vector, which leaves the
// semantic tier ordering by ordinal.
type constantEmbedder struct{}

func (constantEmbedder) Dimensions() int { return 4 }

func (constantEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (constantEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type fixedUUID struct{}

func (fixedUUID) NewUUID() string { return "7d3c1c3e-95b5-4f0a-9a53-2f0a6b3c1f10" }

type testServer struct {
	handler http.Handler
	blobs   *storage.MemoryStore
	queue   *jobs.MemoryQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	blobs := storage.NewMemoryStore()
	indexStore, err := retrieval.NewIndexStore(blobs, retrieval.IndexStoreConfig{})
	require.NoError(t, err)

	engine, err := retrieval.NewEngine(retrieval.Config{
		Tokenizer: retrieval.TokenizerFunc(func(text string) int { return len(strings.Fields(text)) }),
		Embedder:  constantEmbedder{},
		Store:     indexStore,
		MaxTokens: 100,
	})
	require.NoError(t, err)

	queue := jobs.NewMemoryQueue(0)
	worker := jobs.NewWorker(nil, 0)
	svc := service.NewCourseContextService(engine, documents.NewSource(blobs, retrieval.DefaultKeyPrefix)).
		WithRebuildQueue(queue, worker, fixedUUID{})

	return &testServer{
		handler: NewRouter(RouterConfig{CorpusHandler: handlers.NewCorpusHandler(svc)}),
		blobs:   blobs,
		queue:   queue,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) putDocument(t *testing.T, name, text string) {
	t.Helper()
	require.NoError(t, s.blobs.Put(context.Background(), "user_data/user-1/hamlet/"+name, []byte(text), "text/plain"))
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	d, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return d
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", data(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_QueryBuildsMissingIndex(t *testing.T) {
	s := newTestServer(t)
	s.putDocument(t, "01-intro.txt", "\"To be or not to be\" is a famous line.\nIt was written by Shakespeare.")

	w := s.do(t, http.MethodPost, "/corpora/user-1/hamlet/query", `{"query":"\"To be or not to be\" is a famous line."}`)

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, "exact", d["tier"])
	assert.Equal(t, "\"To be or not to be\" is a famous line.\nIt was written by Shakespeare.", d["text"])

	// the artifacts now live next to the documents
	keys, err := s.blobs.List(context.Background(), "user_data/user-1/hamlet/")
	require.NoError(t, err)
	assert.Contains(t, keys, "user_data/user-1/hamlet/chunks.json")
	assert.Contains(t, keys, "user_data/user-1/hamlet/lexical_index.json")
	assert.Contains(t, keys, "user_data/user-1/hamlet/vector_index.gob")
}

func TestRouter_ProcessWithoutDocuments(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/corpora/user-1/hamlet/process", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ProcessQueryDelete(t *testing.T) {
	s := newTestServer(t)
	s.putDocument(t, "a.txt", "first line of the course")

	w := s.do(t, http.MethodPost, "/corpora/user-1/hamlet/process", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", data(t, w)["status"])

	w = s.do(t, http.MethodPost, "/corpora/user-1/hamlet/query", `{"query":"what is this course about"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "semantic", data(t, w)["tier"])

	w = s.do(t, http.MethodDelete, "/corpora/user-1/hamlet", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	keys, err := s.blobs.List(context.Background(), "user_data/user-1/hamlet/")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_data/user-1/hamlet/a.txt"}, keys)
}

func TestRouter_AsyncProcessAndJobStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/corpora/user-1/hamlet/process?async=true", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := data(t, w)["id"].(string)
	assert.Equal(t, "7d3c1c3e-95b5-4f0a-9a53-2f0a6b3c1f10", jobID)

	w = s.do(t, http.MethodGet, "/rebuild-jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", data(t, w)["status"])

	w = s.do(t, http.MethodGet, "/rebuild-jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_InvalidCorpusKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/corpora/user-1/%2E%2E/query", `{"query":"x"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	body := `{"query":"` + strings.Repeat("x", int(defaultMaxBodyBytes)) + `"}`

	w := s.do(t, http.MethodPost, "/corpora/user-1/hamlet/query", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
