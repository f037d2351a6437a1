package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used when none is configured
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultTimeout bounds a single embeddings request
	DefaultTimeout = 30 * time.Second
)

var modelDimensions = map[string]int{
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
	string(openai.AdaEmbeddingV2):  1536,
}

// Dimensions returns the vector size produced by a known model.
func Dimensions(model string) (int, bool) {
	d, ok := modelDimensions[model]
	return d, ok
}

var (
	// ErrEmptyText is returned when an input is blank
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyBatch is returned when no inputs are given
	ErrEmptyBatch = errors.New("batch cannot be empty")
	// ErrWrongDimensions is returned when a vector does not match the model size
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrResponseMismatch is returned when the provider returns a different number of vectors
	ErrResponseMismatch = errors.New("embedding response does not match request")
)

// BatchResponse holds vectors in input order plus provider-reported usage.
type BatchResponse struct {
	Vectors      [][]float32
	PromptTokens int
}

// EmbeddingAPI defines the interface for batch embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, model string, inputs []string) (*BatchResponse, error)
}

// Client wraps the OpenAI API client
type Client struct {
	api     EmbeddingAPI
	timeout time.Duration
}

type OpenAIAdapter struct {
	client *openai.Client
}

func NewOpenAIAdapter(cfg openai.ClientConfig) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg)}
}

// CreateEmbeddings calls the OpenAI API and reorders results by input index
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, model string, inputs []string) (*BatchResponse, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: sent %d inputs, got %d vectors", ErrResponseMismatch, len(inputs), len(resp.Data))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrResponseMismatch, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	return &BatchResponse{Vectors: vectors, PromptTokens: resp.Usage.PromptTokens}, nil
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		api:     NewOpenAIAdapter(oc),
		timeout: timeout,
	}
}

// EmbedBatch embeds inputs in one request. Provider failures are returned as
// embedding provider errors tagged with their retryability.
func (c *Client) EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float32, int, error) {
	if len(inputs) == 0 {
		return nil, 0, ErrEmptyBatch
	}
	for _, in := range inputs {
		if strings.TrimSpace(in) == "" {
			return nil, 0, ErrEmptyText
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateEmbeddings(ctx, model, inputs)
	if err != nil {
		return nil, 0, domain.NewEmbeddingProviderError(fmt.Errorf("failed to create embeddings: %w", err), IsRetryable(err))
	}

	expected, known := Dimensions(model)
	for i, v := range resp.Vectors {
		if !known {
			expected = len(resp.Vectors[0])
		}
		if len(v) == 0 || len(v) != expected {
			return nil, 0, domain.NewEmbeddingProviderError(
				fmt.Errorf("%w: vector %d has %d, expected %d", ErrWrongDimensions, i, len(v), expected), false)
		}
	}

	return resp.Vectors, resp.PromptTokens, nil
}

// IsRetryable reports whether an embeddings call may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}
