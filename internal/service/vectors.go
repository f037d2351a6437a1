package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
)

// VectorStore validates and persists chunk vectors and answers similarity
// queries. Every call is scoped to one owner.
type VectorStore struct {
	index VectorIndex
}

func NewVectorStore(index VectorIndex) *VectorStore {
	return &VectorStore{index: index}
}

// Store replaces the stored vectors of fileID with one vector per chunk. The
// write is all or nothing.
func (s *VectorStore) Store(ctx context.Context, ownerID, fileID string, chunks []domain.TextChunk, vectors [][]float32, model string) error {
	if ownerID == "" {
		return domain.ErrMissingOwner
	}
	if fileID == "" {
		return fmt.Errorf("file id: %w", domain.ErrMissingRequiredField)
	}
	if len(chunks) != len(vectors) {
		return domain.ErrVectorLengthMismatch
	}
	if len(chunks) > 0 {
		if _, err := uniformDimensions(vectors); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, err.Error(), domain.ErrVectorLengthMismatch)
		}
	}

	now := time.Now().UTC()
	rows := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d has index %d: %w", i, c.Index, domain.ErrInvalidChunkParams)
		}
		rows[i] = domain.Chunk{
			OwnerID:        ownerID,
			FileID:         fileID,
			Index:          c.Index,
			Content:        c.Content,
			TokenCount:     c.TokenCount,
			Embedding:      vectors[i],
			EmbeddingModel: model,
			Dimensions:     len(vectors[i]),
			CreatedAt:      now,
		}
	}

	if err := s.index.ReplaceChunks(ctx, ownerID, fileID, rows); err != nil {
		return domain.NewVectorStoreError(fmt.Errorf("failed to store vectors: %w", err))
	}
	return nil
}

// Search returns ownerID's chunks most similar to query.
func (s *VectorStore) Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	if len(query) == 0 {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "query vector is required", domain.ErrInvalidSearchRequest)
	}
	if !hasDirection(query) {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "query vector must be finite and non-zero", domain.ErrInvalidSearchRequest)
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, ownerID, query, opts)
	if err != nil {
		return nil, domain.NewVectorStoreError(fmt.Errorf("failed to search vectors: %w", err))
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	return hits, nil
}

// hasDirection reports whether v has a cosine similarity with anything: all
// components finite and at least one non-zero.
func hasDirection(v []float32) bool {
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if x != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// Delete removes every vector of fileID.
func (s *VectorStore) Delete(ctx context.Context, ownerID, fileID string) error {
	if ownerID == "" {
		return domain.ErrMissingOwner
	}
	if err := s.index.DeleteByFile(ctx, ownerID, fileID); err != nil {
		return domain.NewVectorStoreError(fmt.Errorf("failed to delete vectors: %w", err))
	}
	return nil
}

// Chunks lists the stored chunks of fileID in index order.
func (s *VectorStore) Chunks(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	return s.index.ListByFile(ctx, ownerID, fileID)
}
