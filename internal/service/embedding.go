package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmbeddingClient generates embeddings for a batch of inputs and reports the
// provider token usage.
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, model string, inputs []string) ([][]float32, int, error)
}

// ClientForKey builds an EmbeddingClient authenticated with a caller-supplied
// key.
type ClientForKey func(apiKey string) EmbeddingClient

// ModelInfo describes an embedding model's output size and price.
type ModelInfo struct {
	Dimensions      int
	CostPer1MTokens float64
}

var embeddingModels = map[string]ModelInfo{
	"text-embedding-3-small": {Dimensions: 1536, CostPer1MTokens: 0.02},
	"text-embedding-3-large": {Dimensions: 3072, CostPer1MTokens: 0.13},
	"text-embedding-ada-002": {Dimensions: 1536, CostPer1MTokens: 0.10},
}

// LookupModel returns the known parameters of model.
func LookupModel(model string) (ModelInfo, bool) {
	info, ok := embeddingModels[model]
	return info, ok
}

// EmbeddingCost returns the USD price of tokens on model. Unknown models cost 0.
func EmbeddingCost(model string, tokens int) float64 {
	info, ok := embeddingModels[model]
	if !ok {
		return 0
	}
	return float64(tokens) * info.CostPer1MTokens / 1_000_000
}

const (
	DefaultEmbeddingBatchSize   = 100
	DefaultEmbeddingParallelism = 4
)

// EmbeddingConfig controls batching.
type EmbeddingConfig struct {
	Model       string
	BatchSize   int
	Parallelism int
}

// EmbeddingRequest asks for vectors for the ordered chunks of one file.
type EmbeddingRequest struct {
	OwnerID         string
	FileID          string
	Chunks          []domain.TextChunk
	Model           string
	APIKey          string
	ForceRegenerate bool
}

// EmbeddingResult holds vectors aligned with the request chunks.
type EmbeddingResult struct {
	Vectors    [][]float32 `json:"-"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Tokens     int         `json:"tokens"`
	CostUSD    float64     `json:"cost_usd"`
	FromCache  bool        `json:"from_cache"`
	Batches    int         `json:"batches"`
}

// EmbeddingService turns chunk text into vectors.
type EmbeddingService struct {
	client       EmbeddingClient
	clientForKey ClientForKey
	keys         OwnerKeyStore
	existing     VectorIndex
	cfg          EmbeddingConfig
}

// NewEmbeddingService creates an EmbeddingService. client is the platform
// client and may be nil when only owner keys are supported.
func NewEmbeddingService(client EmbeddingClient, existing VectorIndex, cfg EmbeddingConfig) *EmbeddingService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultEmbeddingParallelism
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &EmbeddingService{client: client, existing: existing, cfg: cfg}
}

// WithOwnerKeys enables bring-your-own-key clients. Owners with a stored key
// are embedded with their own credential.
func (s *EmbeddingService) WithOwnerKeys(keys OwnerKeyStore, factory ClientForKey) *EmbeddingService {
	s.keys = keys
	s.clientForKey = factory
	return s
}

// Model returns the default embedding model.
func (s *EmbeddingService) Model() string {
	return s.cfg.Model
}

// Generate embeds req.Chunks. When the file already has vectors for the same
// chunk texts and model they are returned without calling the provider,
// unless ForceRegenerate is set. A failure of any batch fails the whole call.
func (s *EmbeddingService) Generate(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	if req.OwnerID == "" {
		return nil, domain.ErrMissingOwner
	}
	if len(req.Chunks) == 0 {
		return nil, domain.NewChunkingError("no chunks to embed")
	}
	for i, c := range req.Chunks {
		if c.Index != i {
			return nil, fmt.Errorf("chunk %d has index %d: %w", i, c.Index, domain.ErrInvalidChunkParams)
		}
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Model
	}
	log := logging.FromContext(ctx).With(
		zap.String("owner_id", req.OwnerID),
		zap.String("file_id", req.FileID),
		zap.String("model", model),
	)

	if !req.ForceRegenerate {
		if cached := s.cached(ctx, req, model); cached != nil {
			log.Debug("embeddings served from cache", zap.Int("chunks", len(cached.Vectors)))
			return cached, nil
		}
	}

	client, err := s.resolveClient(ctx, req.OwnerID, req.APIKey)
	if err != nil {
		return nil, err
	}

	n := len(req.Chunks)
	vectors := make([][]float32, n)
	batchCount := (n + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	batchTokens := make([]int, batchCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for b := 0; b < batchCount; b++ {
		start := b * s.cfg.BatchSize
		end := start + s.cfg.BatchSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			inputs := make([]string, end-start)
			estimated := 0
			for i := start; i < end; i++ {
				inputs[i-start] = req.Chunks[i].Content
				estimated += req.Chunks[i].TokenCount
			}

			out, tokens, err := client.EmbedBatch(gctx, model, inputs)
			if err != nil {
				return asProviderError(err, fmt.Sprintf("batch %d of %d", b+1, batchCount))
			}
			if len(out) != len(inputs) {
				return domain.NewEmbeddingProviderError(
					fmt.Errorf("batch %d of %d: got %d vectors for %d inputs", b+1, batchCount, len(out), len(inputs)), false)
			}
			copy(vectors[start:end], out)
			if tokens <= 0 {
				tokens = estimated
			}
			batchTokens[b] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("embedding failed", zap.Error(err))
		return nil, err
	}

	dims, err := uniformDimensions(vectors)
	if err != nil {
		return nil, domain.NewEmbeddingProviderError(err, false)
	}
	if info, ok := LookupModel(model); ok && info.Dimensions != dims {
		return nil, domain.NewEmbeddingProviderError(
			fmt.Errorf("model %s returned %d dimensions, expected %d", model, dims, info.Dimensions), false)
	}

	total := 0
	for _, t := range batchTokens {
		total += t
	}

	result := &EmbeddingResult{
		Vectors:    vectors,
		Model:      model,
		Dimensions: dims,
		Tokens:     total,
		CostUSD:    EmbeddingCost(model, total),
		Batches:    batchCount,
	}
	log.Info("embeddings generated",
		zap.Int("chunks", n),
		zap.Int("batches", batchCount),
		zap.Int("tokens", total),
		zap.Float64("cost_usd", result.CostUSD),
	)
	return result, nil
}

// EmbedQuery embeds a single search query with the owner's client.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, ownerID, text string) ([]float32, error) {
	client, err := s.resolveClient(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	out, _, err := client.EmbedBatch(ctx, s.cfg.Model, []string{text})
	if err != nil {
		return nil, asProviderError(err, "query")
	}
	if len(out) != 1 {
		return nil, domain.NewEmbeddingProviderError(fmt.Errorf("got %d vectors for 1 input", len(out)), false)
	}
	return out[0], nil
}

func (s *EmbeddingService) resolveClient(ctx context.Context, ownerID, apiKey string) (EmbeddingClient, error) {
	if apiKey == "" && s.keys != nil {
		key, err := s.keys.APIKey(ctx, ownerID)
		switch {
		case err == nil:
			apiKey = key
		case errors.Is(err, domain.ErrOwnerKeyNotFound):
		default:
			return nil, domain.NewEmbeddingProviderError(fmt.Errorf("failed to load owner api key: %w", err), true)
		}
	}

	if apiKey != "" {
		if s.clientForKey == nil {
			return nil, domain.ErrEmbeddingNotConfigured
		}
		return s.clientForKey(apiKey), nil
	}
	if s.client == nil {
		return nil, domain.ErrEmbeddingNotConfigured
	}
	return s.client, nil
}

// cached returns the stored vectors of the file when they were produced by
// model for exactly the requested chunk texts.
func (s *EmbeddingService) cached(ctx context.Context, req EmbeddingRequest, model string) *EmbeddingResult {
	if s.existing == nil || req.FileID == "" {
		return nil
	}
	stored, err := s.existing.ListByFile(ctx, req.OwnerID, req.FileID)
	if err != nil {
		logging.FromContext(ctx).Warn("embedding cache lookup failed", zap.String("file_id", req.FileID), zap.Error(err))
		return nil
	}
	if len(stored) != len(req.Chunks) {
		return nil
	}

	vectors := make([][]float32, len(stored))
	for i, c := range stored {
		if c.Index != i || c.EmbeddingModel != model || c.Content != req.Chunks[i].Content || len(c.Embedding) == 0 {
			return nil
		}
		vectors[i] = c.Embedding
	}
	dims, err := uniformDimensions(vectors)
	if err != nil {
		return nil
	}

	return &EmbeddingResult{
		Vectors:    vectors,
		Model:      model,
		Dimensions: dims,
		FromCache:  true,
	}
}

func uniformDimensions(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, errors.New("no vectors")
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dims {
			return 0, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), dims)
		}
	}
	return dims, nil
}

// asProviderError tags err as an embedding provider failure unless it is
// already classified. Unclassified errors are retryable.
func asProviderError(err error, scope string) error {
	wrapped := fmt.Errorf("%s: %w", scope, err)
	var ie *domain.IngestError
	if errors.As(err, &ie) {
		return wrapped
	}
	return domain.NewEmbeddingProviderError(wrapped, domain.IsRetryable(err))
}
