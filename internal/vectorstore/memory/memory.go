// Package memory is an in-process vector index using brute-force cosine
// similarity. It backs tests and single-node development runs.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/cloo-solutions/briefly/internal/domain"
)

type fileKey struct {
	ownerID string
	fileID  string
}

// Storage holds chunks grouped by (owner, file).
type Storage struct {
	mu    sync.RWMutex
	files map[fileKey][]domain.Chunk
}

func NewStorage() *Storage {
	return &Storage{files: make(map[fileKey][]domain.Chunk)}
}

// ReplaceChunks swaps the chunks of a file in one step.
func (s *Storage) ReplaceChunks(_ context.Context, ownerID, fileID string, chunks []domain.Chunk) error {
	stored := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		c.OwnerID = ownerID
		c.FileID = fileID
		c.Embedding = append([]float32(nil), c.Embedding...)
		c.Dimensions = len(c.Embedding)
		stored[i] = c
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })

	s.mu.Lock()
	defer s.mu.Unlock()
	key := fileKey{ownerID, fileID}
	if len(stored) == 0 {
		delete(s.files, key)
		return nil
	}
	s.files[key] = stored
	return nil
}

func (s *Storage) ListByFile(_ context.Context, ownerID, fileID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.files[fileKey{ownerID, fileID}]
	out := make([]domain.Chunk, len(stored))
	for i, c := range stored {
		c.Embedding = append([]float32(nil), c.Embedding...)
		out[i] = c
	}
	return out, nil
}

func (s *Storage) DeleteByFile(_ context.Context, ownerID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileKey{ownerID, fileID})
	return nil
}

// Search scores every chunk of ownerID with matching dimensionality.
func (s *Storage) Search(_ context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	var allowed map[string]bool
	if len(opts.FileIDs) > 0 {
		allowed = make(map[string]bool, len(opts.FileIDs))
		for _, id := range opts.FileIDs {
			allowed[id] = true
		}
	}

	s.mu.RLock()
	var hits []domain.SearchHit
	for key, chunks := range s.files {
		if key.ownerID != ownerID {
			continue
		}
		if allowed != nil && !allowed[key.fileID] {
			continue
		}
		for _, c := range chunks {
			if len(c.Embedding) != len(query) {
				continue
			}
			if opts.Model != "" && c.EmbeddingModel != opts.Model {
				continue
			}
			score := Cosine(query, c.Embedding)
			if score < opts.Threshold {
				continue
			}
			hits = append(hits, domain.SearchHit{
				FileID:     c.FileID,
				ChunkIndex: c.Index,
				Content:    c.Content,
				Score:      score,
			})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ChunkIndex != hits[j].ChunkIndex {
			return hits[i].ChunkIndex < hits[j].ChunkIndex
		}
		return hits[i].FileID < hits[j].FileID
	})

	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero
// vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
