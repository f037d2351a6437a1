package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code and message, so wrapped
// copies of a sentinel still match it.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// Validation errors
var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidSource        = NewDomainError(ErrCodeValidation, "invalid file source")
	ErrInvalidProvider      = NewDomainError(ErrCodeValidation, "invalid sync provider")
	ErrInvalidChunkStrategy = NewDomainError(ErrCodeValidation, "invalid chunk strategy")
	ErrInvalidChunkParams   = NewDomainError(ErrCodeValidation, "invalid chunk parameters")
	ErrInvalidFileReference = NewDomainError(ErrCodeValidation, "file reference must carry exactly one of content or download_url")
	ErrInvalidJobStatus     = NewDomainError(ErrCodeValidation, "invalid ingestion job status")
	ErrVectorLengthMismatch = NewDomainError(ErrCodeValidation, "chunks and vectors length mismatch")
	ErrMissingOwner         = NewDomainError(ErrCodeValidation, "owner id is required")
	ErrInvalidSearchRequest = NewDomainError(ErrCodeValidation, "invalid search request")
)

// Operation errors
var (
	ErrInvalidStatusTransition = NewDomainError(ErrCodeInvalidOperation, "invalid processing status transition")
)

// Not found errors
var (
	ErrFileNotFound           = NewDomainError(ErrCodeNotFound, "file not found")
	ErrIngestionJobNotFound   = NewDomainError(ErrCodeNotFound, "ingestion job not found")
	ErrSyncConnectionNotFound = NewDomainError(ErrCodeNotFound, "sync connection not found")
	ErrTokenNotFound          = NewDomainError(ErrCodeUnauthorized, "no access token stored for provider")
	ErrOwnerKeyNotFound       = NewDomainError(ErrCodeNotFound, "no embedding api key stored for owner")
	ErrObjectNotFound         = NewDomainError(ErrCodeNotFound, "stored object not found")
)

// Already exists errors
var (
	ErrDuplicateChecksum = NewDomainError(ErrCodeAlreadyExists, "a completed file with this checksum already exists")
)

// Availability errors
var (
	ErrEmbeddingNotConfigured = NewDomainError(ErrCodeUnavailable, "embedding provider not configured")
)

// ErrorKind classifies failures inside the ingestion pipeline.
type ErrorKind string

const (
	KindChecksumLookup    ErrorKind = "checksum_lookup"
	KindChunking          ErrorKind = "chunking"
	KindEmbeddingProvider ErrorKind = "embedding_provider"
	KindVectorStore       ErrorKind = "vector_store"
	KindSyncProvider      ErrorKind = "sync_provider"
	KindExtraction        ErrorKind = "extraction"
	KindSourceFetch       ErrorKind = "source_fetch"
)

// IngestError is a pipeline failure tagged with its kind.
type IngestError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// NewIngestError wraps err with a pipeline kind.
func NewIngestError(kind ErrorKind, err error, retryable bool) *IngestError {
	return &IngestError{Kind: kind, Err: err, Retryable: retryable}
}

func NewChecksumLookupError(err error) *IngestError {
	return NewIngestError(KindChecksumLookup, err, true)
}

func NewChunkingError(msg string) *IngestError {
	return NewIngestError(KindChunking, errors.New(msg), false)
}

func NewEmbeddingProviderError(err error, retryable bool) *IngestError {
	return NewIngestError(KindEmbeddingProvider, err, retryable)
}

func NewVectorStoreError(err error) *IngestError {
	return NewIngestError(KindVectorStore, err, true)
}

func NewSyncProviderError(err error) *IngestError {
	return NewIngestError(KindSyncProvider, err, true)
}

func NewExtractionError(err error) *IngestError {
	return NewIngestError(KindExtraction, err, false)
}

func NewSourceFetchError(err error) *IngestError {
	return NewIngestError(KindSourceFetch, err, true)
}

// KindOf returns the pipeline kind of err, or "" if it is not an IngestError.
func KindOf(err error) ErrorKind {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// IsRetryable reports whether a failed file may succeed on a later attempt.
// Errors that are not IngestErrors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return true
}
