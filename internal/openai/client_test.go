package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func vectorOf(dim int, value float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = value
	}
	return v
}

func TestClient_GenerateEmbedding_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 8}

	ctx := context.Background()
	text := "To be, or not to be, that is the question."
	expected := vectorOf(8, 0.25)

	mockAPI.On("CreateEmbeddings", ctx, []string{text}).Return([][]float32{expected}, nil)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.NoError(t, err)
	assert.Equal(t, expected, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbedding_EmptyText(t *testing.T) {
	client := NewClient("")

	ctx := context.Background()
	embedding, err := client.GenerateEmbedding(ctx, "   ")

	assert.Nil(t, embedding)
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_GenerateEmbedding_APIError(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 8}

	ctx := context.Background()
	text := "Test text"
	apiErr := errors.New("API rate limit exceeded")

	mockAPI.On("CreateEmbeddings", ctx, []string{text}).Return(nil, apiErr)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.Nil(t, embedding)
	assert.ErrorIs(t, err, apiErr)
	assert.Contains(t, err.Error(), "failed to create embedding")
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbedding_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 8}

	ctx := context.Background()
	text := "Test text"

	mockAPI.On("CreateEmbeddings", ctx, []string{text}).Return([][]float32{vectorOf(4, 1)}, nil)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.Nil(t, embedding)
	assert.ErrorIs(t, err, ErrWrongDimensions)
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbeddings_SkipsBlankTexts(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 4}

	ctx := context.Background()
	mockAPI.On("CreateEmbeddings", ctx, []string{"first", "third"}).
		Return([][]float32{vectorOf(4, 1), vectorOf(4, 3)}, nil)

	embeddings, err := client.GenerateEmbeddings(ctx, []string{"first", "", "third"})

	require.NoError(t, err)
	require.Len(t, embeddings, 3)
	assert.Equal(t, vectorOf(4, 1), embeddings[0])
	assert.Equal(t, vectorOf(4, 0), embeddings[1])
	assert.Equal(t, vectorOf(4, 3), embeddings[2])
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbeddings_AllBlank(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 2}

	embeddings, err := client.GenerateEmbeddings(context.Background(), []string{"", " "})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0}, {0, 0}}, embeddings)
	mockAPI.AssertNotCalled(t, "CreateEmbeddings", mock.Anything, mock.Anything)
}

func TestClient_GenerateEmbeddings_ShortResponse(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: 2}

	ctx := context.Background()
	mockAPI.On("CreateEmbeddings", ctx, []string{"a", "b"}).Return([][]float32{{1, 1}}, nil)

	embeddings, err := client.GenerateEmbeddings(ctx, []string{"a", "b"})

	assert.Nil(t, embeddings)
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
	assert.Equal(t, DefaultEmbeddingDimensions, client.Dimensions())
}

func TestNewClientWithConfig_CustomDimensions(t *testing.T) {
	client := NewClientWithConfig(Config{
		APIKey:              "test-api-key",
		BaseURL:             "http://localhost:9999/v1",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 256,
	})

	assert.Equal(t, 256, client.Dimensions())
}

func TestNewClientFromEnv_NoAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	client, err := NewClientFromEnv()

	assert.Nil(t, client)
	assert.Equal(t, ErrNoAPIKey, err)
}

func TestNewClientFromEnv_WithAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	client, err := NewClientFromEnv()

	assert.NotNil(t, client)
	assert.NoError(t, err)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Dimensions() int {
	return m.Called().Int(0)
}

func TestCachedClient_ReusesQueryEmbedding(t *testing.T) {
	next := new(MockEmbedder)
	ctx := context.Background()
	next.On("GenerateEmbedding", ctx, "who is hamlet").Return([]float32{1, 2}, nil).Once()

	cached, err := NewCachedClient(next, 4)
	require.NoError(t, err)

	first, err := cached.GenerateEmbedding(ctx, "who is hamlet")
	require.NoError(t, err)
	second, err := cached.GenerateEmbedding(ctx, "who is hamlet")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cached.Len())
	next.AssertExpectations(t)
}

func TestCachedClient_DoesNotCacheErrors(t *testing.T) {
	next := new(MockEmbedder)
	ctx := context.Background()
	next.On("GenerateEmbedding", ctx, "q").Return(nil, errors.New("timeout")).Once()
	next.On("GenerateEmbedding", ctx, "q").Return([]float32{3}, nil).Once()

	cached, err := NewCachedClient(next, 0)
	require.NoError(t, err)

	_, err = cached.GenerateEmbedding(ctx, "q")
	assert.Error(t, err)

	vec, err := cached.GenerateEmbedding(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, vec)
	next.AssertExpectations(t)
}

func TestCachedClient_PassesThroughBatches(t *testing.T) {
	next := new(MockEmbedder)
	ctx := context.Background()
	next.On("GenerateEmbeddings", ctx, []string{"a", "b"}).Return([][]float32{{1}, {2}}, nil).Twice()
	next.On("Dimensions").Return(1)

	cached, err := NewCachedClient(next, 4)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := cached.GenerateEmbeddings(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, out, 2)
	}
	assert.Equal(t, 1, cached.Dimensions())
	assert.Equal(t, 0, cached.Len())
	next.AssertExpectations(t)
}
