package domain

import "fmt"

// ChunkStrategy selects how extracted text is split.
type ChunkStrategy string

const (
	ChunkStrategyParagraph     ChunkStrategy = "paragraph"
	ChunkStrategySentence      ChunkStrategy = "sentence"
	ChunkStrategyFixed         ChunkStrategy = "fixed"
	ChunkStrategySlidingWindow ChunkStrategy = "sliding_window"
)

// ParseChunkStrategy validates a raw strategy name.
func ParseChunkStrategy(s string) (ChunkStrategy, error) {
	switch ChunkStrategy(s) {
	case ChunkStrategyParagraph, ChunkStrategySentence, ChunkStrategyFixed, ChunkStrategySlidingWindow:
		return ChunkStrategy(s), nil
	}
	return "", ErrInvalidChunkStrategy
}

const (
	DefaultMaxChunkSize = 1000
	DefaultMinChunkSize = 100
	DefaultChunkOverlap = 200

	MinAllowedChunkSize = 50
	MaxAllowedChunkSize = 20000
)

// ChunkParams bounds chunk sizes. Sizes are measured in characters (runes).
type ChunkParams struct {
	MaxChunkSize      int
	MinChunkSize      int
	Overlap           int
	PreserveStructure bool
	RespectBoundaries bool
}

// DefaultChunkParams returns the parameters used when a caller supplies none.
func DefaultChunkParams() ChunkParams {
	return ChunkParams{
		MaxChunkSize:      DefaultMaxChunkSize,
		MinChunkSize:      DefaultMinChunkSize,
		Overlap:           DefaultChunkOverlap,
		PreserveStructure: true,
		RespectBoundaries: true,
	}
}

// Validate rejects parameter combinations the chunker cannot honor.
func (p ChunkParams) Validate() error {
	if p.MaxChunkSize < MinAllowedChunkSize || p.MaxChunkSize > MaxAllowedChunkSize {
		return NewDomainErrorWithCause(ErrCodeValidation,
			fmt.Sprintf("maxChunkSize must be between %d and %d", MinAllowedChunkSize, MaxAllowedChunkSize),
			ErrInvalidChunkParams)
	}
	if p.MinChunkSize < 0 || p.MinChunkSize >= p.MaxChunkSize {
		return NewDomainErrorWithCause(ErrCodeValidation, "minChunkSize must be non-negative and below maxChunkSize", ErrInvalidChunkParams)
	}
	if p.Overlap < 0 || p.Overlap >= p.MaxChunkSize {
		return NewDomainErrorWithCause(ErrCodeValidation, "overlap must be non-negative and below maxChunkSize", ErrInvalidChunkParams)
	}
	return nil
}
