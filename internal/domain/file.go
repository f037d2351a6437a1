package domain

import (
	"fmt"
	"time"
)

// ProcessingStatus is the indexing state of a FileRecord.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Source identifies where a file came from.
type Source string

const (
	SourceUpload    Source = "upload"
	SourceGoogle    Source = "google"
	SourceMicrosoft Source = "microsoft"
)

// ParseSource validates a raw source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceUpload, SourceGoogle, SourceMicrosoft:
		return Source(s), nil
	}
	return "", ErrInvalidSource
}

// IsCloud reports whether files from this source are listed by a sync provider.
func (s Source) IsCloud() bool {
	return s == SourceGoogle || s == SourceMicrosoft
}

// FileRecord is one ingested document. Records are never hard-deleted by the
// ingestion core.
type FileRecord struct {
	ID           string
	OwnerID      string
	Filename     string
	MimeType     string
	Size         int64
	Checksum     string
	Source       Source
	ExternalID   string
	Revision     string
	LastModified time.Time
	StorageKey   string
	DownloadURL  string
	Status       ProcessingStatus
	DuplicateOf  string
	ChunkCount   int
	ErrorKind    ErrorKind
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDuplicate reports whether the record resolved to another file's content.
func (f *FileRecord) IsDuplicate() bool {
	return f.DuplicateOf != ""
}

// ValidateFileRecord validates a FileRecord instance
func ValidateFileRecord(f *FileRecord) error {
	if f == nil {
		return fmt.Errorf("file record cannot be nil")
	}
	if f.ID == "" {
		return fmt.Errorf("file record ID is required")
	}
	if f.OwnerID == "" {
		return fmt.Errorf("file record OwnerID is required")
	}
	if f.Filename == "" {
		return fmt.Errorf("file record Filename is required")
	}
	if _, err := ParseSource(string(f.Source)); err != nil {
		return fmt.Errorf("file record Source is invalid: %s", f.Source)
	}
	if f.Source.IsCloud() && f.ExternalID == "" {
		return fmt.Errorf("file record ExternalID is required for %s files", f.Source)
	}
	if !isValidProcessingStatus(f.Status) {
		return fmt.Errorf("file record Status is invalid: %s", f.Status)
	}
	if f.Size < 0 {
		return fmt.Errorf("file record Size cannot be negative")
	}
	return nil
}

func isValidProcessingStatus(s ProcessingStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// A terminal record re-enters the machine only through pending.
func CanTransition(from, to ProcessingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusPending
	}
	return false
}

// FileReference is the input handed to the ingestion pipeline. Exactly one of
// Content or DownloadURL is set.
type FileReference struct {
	OwnerID      string
	FileID       string
	Source       Source
	ExternalID   string
	Filename     string
	MimeType     string
	Size         int64
	Revision     string
	Content      []byte
	DownloadURL  string
	LastModified time.Time
}

// Validate checks the reference shape before a record is created for it.
func (r *FileReference) Validate() error {
	if r.OwnerID == "" {
		return ErrMissingOwner
	}
	if r.Filename == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "filename is required", ErrMissingRequiredField)
	}
	if _, err := ParseSource(string(r.Source)); err != nil {
		return err
	}
	hasContent := r.Content != nil
	hasURL := r.DownloadURL != ""
	if hasContent == hasURL {
		return ErrInvalidFileReference
	}
	if r.Source.IsCloud() && r.ExternalID == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "external_id is required for cloud files", ErrMissingRequiredField)
	}
	return nil
}
