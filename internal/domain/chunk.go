package domain

import (
	"fmt"
	"time"
)

// Chunk is a bounded slice of a file's extracted text together with its
// embedding.
type Chunk struct {
	OwnerID        string
	FileID         string
	Index          int
	Content        string
	TokenCount     int
	Embedding      []float32
	EmbeddingModel string
	Dimensions     int
	CreatedAt      time.Time
}

// ID is the stable identifier of the chunk within the vector store.
func (c *Chunk) ID() string {
	return ChunkID(c.FileID, c.Index)
}

// ChunkID builds the identifier of chunk index of fileID.
func ChunkID(fileID string, index int) string {
	return fmt.Sprintf("%s_%d", fileID, index)
}

// TextChunk is chunker output before embedding.
type TextChunk struct {
	Index      int
	Content    string
	TokenCount int
}

// SearchOptions narrows a similarity query.
type SearchOptions struct {
	TopK      int
	Threshold float64
	FileIDs   []string
	Model     string
}

const (
	DefaultSearchTopK      = 10
	MaxSearchTopK          = 100
	DefaultSearchThreshold = 0.0
)

// Normalize applies defaults and validates ranges.
func (o SearchOptions) Normalize() (SearchOptions, error) {
	if o.TopK == 0 {
		o.TopK = DefaultSearchTopK
	}
	if o.TopK < 0 || o.TopK > MaxSearchTopK {
		return o, NewDomainErrorWithCause(ErrCodeValidation, fmt.Sprintf("topK must be between 1 and %d", MaxSearchTopK), ErrInvalidSearchRequest)
	}
	if o.Threshold < -1 || o.Threshold > 1 {
		return o, NewDomainErrorWithCause(ErrCodeValidation, "similarity threshold must be between -1 and 1", ErrInvalidSearchRequest)
	}
	return o, nil
}

// SearchHit is one ranked chunk.
type SearchHit struct {
	FileID     string  `json:"fileId"`
	ChunkIndex int     `json:"chunkIndex"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}
