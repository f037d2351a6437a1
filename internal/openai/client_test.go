package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/briefly/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, model string, inputs []string) (*BatchResponse, error) {
	args := m.Called(ctx, model, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResponse), args.Error(1)
}

func vectorOf(dims int, seed float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestClient_EmbedBatch_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	inputs := []string{"first chunk", "second chunk"}
	resp := &BatchResponse{
		Vectors:      [][]float32{vectorOf(1536, 0.1), vectorOf(1536, 0.2)},
		PromptTokens: 6,
	}
	mockAPI.On("CreateEmbeddings", mock.Anything, DefaultEmbeddingModel, inputs).Return(resp, nil)

	vectors, tokens, err := client.EmbedBatch(context.Background(), DefaultEmbeddingModel, inputs)

	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 6, tokens)
	assert.Equal(t, resp.Vectors[1], vectors[1])
	mockAPI.AssertExpectations(t)
}

func TestClient_EmbedBatch_EmptyInputs(t *testing.T) {
	client := NewClient("")

	_, _, err := client.EmbedBatch(context.Background(), DefaultEmbeddingModel, nil)
	assert.Equal(t, ErrEmptyBatch, err)

	_, _, err = client.EmbedBatch(context.Background(), DefaultEmbeddingModel, []string{"ok", "  "})
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_EmbedBatch_APIErrorIsTagged(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	mockAPI.On("CreateEmbeddings", mock.Anything, DefaultEmbeddingModel, []string{"x"}).Return(nil, rateLimited)

	_, _, err := client.EmbedBatch(context.Background(), DefaultEmbeddingModel, []string{"x"})

	require.Error(t, err)
	assert.Equal(t, domain.KindEmbeddingProvider, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "failed to create embeddings")
}

func TestClient_EmbedBatch_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	resp := &BatchResponse{Vectors: [][]float32{vectorOf(512, 0)}}
	mockAPI.On("CreateEmbeddings", mock.Anything, DefaultEmbeddingModel, []string{"x"}).Return(resp, nil)

	vectors, _, err := client.EmbedBatch(context.Background(), DefaultEmbeddingModel, []string{"x"})

	assert.Nil(t, vectors)
	assert.ErrorIs(t, err, ErrWrongDimensions)
	assert.False(t, domain.IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&openai.APIError{HTTPStatusCode: 503}))
	assert.True(t, IsRetryable(&openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}))
	assert.False(t, IsRetryable(&openai.APIError{HTTPStatusCode: 401}))
	assert.False(t, IsRetryable(&openai.RequestError{HTTPStatusCode: 400, Err: errors.New("bad")}))
	assert.False(t, IsRetryable(errors.New("unknown")))
	assert.False(t, IsRetryable(nil))
}

func TestOpenAIAdapter_ReordersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer server.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = server.URL
	adapter := NewOpenAIAdapter(cfg)

	resp, err := adapter.CreateEmbeddings(context.Background(), "custom-model", []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, resp.Vectors[0])
	assert.Equal(t, []float32{0, 1}, resp.Vectors[1])
	assert.Equal(t, 2, resp.PromptTokens)
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
	assert.Equal(t, DefaultTimeout, client.timeout)
}

func TestDimensions(t *testing.T) {
	d, ok := Dimensions("text-embedding-3-large")
	assert.True(t, ok)
	assert.Equal(t, 3072, d)

	_, ok = Dimensions("unknown")
	assert.False(t, ok)
}
