package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// QueryEmbedder embeds free-text search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, ownerID, text string) ([]float32, error)
	Model() string
}

// FileLookup resolves an owner's file records.
type FileLookup interface {
	GetByID(ctx context.Context, ownerID, id string) (*domain.FileRecord, error)
}

// TextSearchRequest is a similarity query expressed as text.
type TextSearchRequest struct {
	Query     string
	TopK      int
	Threshold float64
	FileIDs   []string
}

// SearchService answers text queries by embedding them and searching the
// owner's vectors. Query embeddings are cached in memory.
type SearchService struct {
	embedder QueryEmbedder
	vectors  *VectorStore
	files    FileLookup
	cache    *expirable.LRU[string, []float32]
}

// NewSearchService creates a SearchService. files may be nil, in which case
// file filters are used as given. A non-positive cacheSize or ttl disables
// the query cache.
func NewSearchService(embedder QueryEmbedder, vectors *VectorStore, files FileLookup, cacheSize int, ttl time.Duration) *SearchService {
	s := &SearchService{embedder: embedder, vectors: vectors, files: files}
	if cacheSize > 0 && ttl > 0 {
		s.cache = expirable.NewLRU[string, []float32](cacheSize, nil, ttl)
	}
	return s
}

// Search runs a vector query directly.
func (s *SearchService) Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	fileIDs, err := s.resolveFileIDs(ctx, ownerID, opts.FileIDs)
	if err != nil {
		return nil, err
	}
	opts.FileIDs = fileIDs
	return s.vectors.Search(ctx, ownerID, query, opts)
}

// SearchText embeds req.Query and returns the owner's closest chunks that
// were embedded with the same model.
func (s *SearchService) SearchText(ctx context.Context, ownerID string, req TextSearchRequest) ([]domain.SearchHit, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "query is required", domain.ErrInvalidSearchRequest)
	}
	if s.embedder == nil {
		return nil, domain.ErrEmbeddingNotConfigured
	}

	fileIDs, err := s.resolveFileIDs(ctx, ownerID, req.FileIDs)
	if err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}

	return s.vectors.Search(ctx, ownerID, vec, domain.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.Threshold,
		FileIDs:   fileIDs,
		Model:     s.embedder.Model(),
	})
}

// resolveFileIDs replaces duplicate files with the file that holds their
// chunks. Unknown ids pass through and match nothing.
func (s *SearchService) resolveFileIDs(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	if s.files == nil || ownerID == "" || len(ids) == 0 {
		return ids, nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		f, err := s.files.GetByID(ctx, ownerID, id)
		switch {
		case errors.Is(err, domain.ErrFileNotFound):
		case err != nil:
			return nil, err
		case f.IsDuplicate():
			id = f.DuplicateOf
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *SearchService) embed(ctx context.Context, ownerID, query string) ([]float32, error) {
	key := cacheKey(s.embedder.Model(), query)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			logging.FromContext(ctx).Debug("query embedding cache hit")
			return cloneEmbedding(cached), nil
		}
	}

	vec, err := s.embedder.EmbedQuery(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, cloneEmbedding(vec))
	}
	logging.FromContext(ctx).Debug("query embedded", zap.Int("dimensions", len(vec)))
	return vec, nil
}

func cacheKey(model, query string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + query))
	return hex.EncodeToString(sum[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
