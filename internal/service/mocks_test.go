package service

import (
	"context"
	"sync/atomic"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/pagination"
	"github.com/stretchr/testify/mock"
)

// MockFileRepository is a mock implementation of FileRepository
type MockFileRepository struct {
	mock.Mock
}

func (m *MockFileRepository) Create(ctx context.Context, f *domain.FileRecord) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFileRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.FileRecord, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) GetByExternalID(ctx context.Context, ownerID string, source domain.Source, externalID string) (*domain.FileRecord, error) {
	args := m.Called(ctx, ownerID, source, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) FindCompletedByChecksum(ctx context.Context, ownerID, checksum, excludeID string) (*domain.FileRecord, error) {
	args := m.Called(ctx, ownerID, checksum, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) ListBySource(ctx context.Context, ownerID string, source domain.Source) ([]*domain.FileRecord, error) {
	args := m.Called(ctx, ownerID, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*FilePageResult, error) {
	args := m.Called(ctx, ownerID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FilePageResult), args.Error(1)
}

func (m *MockFileRepository) ListMissingChecksum(ctx context.Context, ownerID, afterID string, limit int) ([]*domain.FileRecord, error) {
	args := m.Called(ctx, ownerID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) UpdateChecksum(ctx context.Context, ownerID, id, checksum string) error {
	args := m.Called(ctx, ownerID, id, checksum)
	return args.Error(0)
}

func (m *MockFileRepository) UpdateStatus(ctx context.Context, ownerID, id string, status domain.ProcessingStatus, kind domain.ErrorKind, errMsg string) error {
	args := m.Called(ctx, ownerID, id, status, kind, errMsg)
	return args.Error(0)
}

func (m *MockFileRepository) MarkCompleted(ctx context.Context, ownerID, id string, chunkCount int, duplicateOf string) error {
	args := m.Called(ctx, ownerID, id, chunkCount, duplicateOf)
	return args.Error(0)
}

func (m *MockFileRepository) UpdateRemoteMetadata(ctx context.Context, f *domain.FileRecord) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

// MockIngestionJobRepository is a mock implementation of IngestionJobRepository
type MockIngestionJobRepository struct {
	mock.Mock
}

func (m *MockIngestionJobRepository) Create(ctx context.Context, job *domain.IngestionJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockIngestionJobRepository) GetByID(ctx context.Context, id string) (*domain.IngestionJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionJob), args.Error(1)
}

func (m *MockIngestionJobRepository) LatestForFile(ctx context.Context, ownerID, fileID string) (*domain.IngestionJob, error) {
	args := m.Called(ctx, ownerID, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionJob), args.Error(1)
}

// MockSyncConnectionRepository is a mock implementation of SyncConnectionRepository
type MockSyncConnectionRepository struct {
	mock.Mock
}

func (m *MockSyncConnectionRepository) Get(ctx context.Context, ownerID string, provider domain.Provider) (*domain.SyncConnection, error) {
	args := m.Called(ctx, ownerID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SyncConnection), args.Error(1)
}

func (m *MockSyncConnectionRepository) Upsert(ctx context.Context, conn *domain.SyncConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockSyncConnectionRepository) List(ctx context.Context) ([]*domain.SyncConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SyncConnection), args.Error(1)
}

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) AccessToken(ctx context.Context, ownerID string, provider domain.Provider) (string, error) {
	args := m.Called(ctx, ownerID, provider)
	return args.String(0), args.Error(1)
}

type MockOwnerKeyStore struct {
	mock.Mock
}

func (m *MockOwnerKeyStore) APIKey(ctx context.Context, ownerID string) (string, error) {
	args := m.Called(ctx, ownerID)
	return args.String(0), args.Error(1)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) Download(ctx context.Context, url, accessToken string) ([]byte, error) {
	args := m.Called(ctx, url, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockFileLister struct {
	mock.Mock
}

func (m *MockFileLister) ListPage(ctx context.Context, accessToken, cursor string, pageSize int) (*domain.ListingPage, error) {
	args := m.Called(ctx, accessToken, cursor, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ListingPage), args.Error(1)
}

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) Accept(ctx context.Context, ref domain.FileReference, opts AcceptOptions) (*AcceptResult, error) {
	args := m.Called(ctx, ref, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AcceptResult), args.Error(1)
}

// MockUUIDGenerator hands out the given ids in order.
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "default-uuid"
}

// plainExtractor returns the bytes as text.
type plainExtractor struct{}

func (plainExtractor) Extract(_ string, data []byte) (string, error) {
	return string(data), nil
}

// stubEmbeddingClient derives a vector from each input. Calls may run
// concurrently.
type stubEmbeddingClient struct {
	dims   int
	calls  atomic.Int32
	failOn int32
	err    error
	tokens int
}

func newStubEmbeddingClient(dims int) *stubEmbeddingClient {
	return &stubEmbeddingClient{dims: dims}
}

func (c *stubEmbeddingClient) EmbedBatch(_ context.Context, _ string, inputs []string) ([][]float32, int, error) {
	n := c.calls.Add(1)
	if c.failOn > 0 && n == c.failOn {
		return nil, 0, c.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = vectorFor(in, c.dims)
	}
	return out, c.tokens, nil
}

func vectorFor(text string, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = 0.01
	}
	v[0] = float32(len(text))
	return v
}
