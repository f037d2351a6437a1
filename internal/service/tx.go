package service

import (
	"context"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/pagination"
	"github.com/google/uuid"
)

// FileRepository persists FileRecords. Every lookup is owner-scoped.
type FileRepository interface {
	Create(ctx context.Context, f *domain.FileRecord) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.FileRecord, error)
	GetByExternalID(ctx context.Context, ownerID string, source domain.Source, externalID string) (*domain.FileRecord, error)
	// FindCompletedByChecksum returns nil, nil when no canonical completed
	// record carries the checksum.
	FindCompletedByChecksum(ctx context.Context, ownerID, checksum, excludeID string) (*domain.FileRecord, error)
	ListBySource(ctx context.Context, ownerID string, source domain.Source) ([]*domain.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*FilePageResult, error)
	ListMissingChecksum(ctx context.Context, ownerID, afterID string, limit int) ([]*domain.FileRecord, error)
	UpdateChecksum(ctx context.Context, ownerID, id, checksum string) error
	UpdateStatus(ctx context.Context, ownerID, id string, status domain.ProcessingStatus, kind domain.ErrorKind, errMsg string) error
	// MarkCompleted returns domain.ErrDuplicateChecksum when another canonical
	// record with the same checksum completed first.
	MarkCompleted(ctx context.Context, ownerID, id string, chunkCount int, duplicateOf string) error
	UpdateRemoteMetadata(ctx context.Context, f *domain.FileRecord) error
}

// FilePageResult is one page of an owner's files.
type FilePageResult struct {
	Items      []*domain.FileRecord
	NextCursor string
	HasMore    bool
}

// VectorIndex stores chunk vectors keyed by (owner, file, chunk index).
type VectorIndex interface {
	// ReplaceChunks atomically swaps the stored chunks of a file.
	ReplaceChunks(ctx context.Context, ownerID, fileID string, chunks []domain.Chunk) error
	ListByFile(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error)
	DeleteByFile(ctx context.Context, ownerID, fileID string) error
	Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error)
}

// IngestionJobRepository persists queued pipeline runs.
type IngestionJobRepository interface {
	Create(ctx context.Context, job *domain.IngestionJob) error
	GetByID(ctx context.Context, id string) (*domain.IngestionJob, error)
	LatestForFile(ctx context.Context, ownerID, fileID string) (*domain.IngestionJob, error)
}

// SyncConnectionRepository persists per-(owner, provider) sync state.
type SyncConnectionRepository interface {
	Get(ctx context.Context, ownerID string, provider domain.Provider) (*domain.SyncConnection, error)
	Upsert(ctx context.Context, conn *domain.SyncConnection) error
	List(ctx context.Context) ([]*domain.SyncConnection, error)
}

// TokenSource hands out provider access tokens maintained elsewhere.
type TokenSource interface {
	AccessToken(ctx context.Context, ownerID string, provider domain.Provider) (string, error)
}

// OwnerKeyStore resolves an owner's own embedding provider key.
type OwnerKeyStore interface {
	APIKey(ctx context.Context, ownerID string) (string, error)
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Files() FileRepository
	IngestionJobs() IngestionJobRepository
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

// BlobStore keeps the raw bytes of uploaded files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Downloader fetches remote file content. accessToken may be empty for
// public URLs.
type Downloader interface {
	Download(ctx context.Context, url, accessToken string) ([]byte, error)
}

// TextExtractor turns raw file bytes into plain text.
type TextExtractor interface {
	Extract(mimeType string, data []byte) (string, error)
}

// FileLister fetches one page of a provider's file listing. An empty cursor
// starts from the beginning.
type FileLister interface {
	ListPage(ctx context.Context, accessToken, cursor string, pageSize int) (*domain.ListingPage, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}
