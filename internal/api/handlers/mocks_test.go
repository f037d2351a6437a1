package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) Accept(ctx context.Context, ref domain.FileReference, opts service.AcceptOptions) (*service.AcceptResult, error) {
	args := m.Called(ctx, ref, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AcceptResult), args.Error(1)
}

func (m *MockIngestionService) Get(ctx context.Context, ownerID, fileID string) (*service.FileStatus, error) {
	args := m.Called(ctx, ownerID, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FileStatus), args.Error(1)
}

func (m *MockIngestionService) Chunks(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error) {
	args := m.Called(ctx, ownerID, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

func (m *MockIngestionService) List(ctx context.Context, ownerID, cursor string, limit int) (*service.FilePageResult, error) {
	args := m.Called(ctx, ownerID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FilePageResult), args.Error(1)
}

func (m *MockIngestionService) Retry(ctx context.Context, ownerID, fileID string, force bool) (*domain.IngestionJob, error) {
	args := m.Called(ctx, ownerID, fileID, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestionJob), args.Error(1)
}

func (m *MockIngestionService) FetchContent(ctx context.Context, f *domain.FileRecord) ([]byte, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockChecksumBackfiller struct {
	mock.Mock
}

func (m *MockChecksumBackfiller) BackfillChecksums(ctx context.Context, ownerID string, fetch service.BufferFetcher) (*service.BackfillResult, error) {
	args := m.Called(ctx, ownerID, fetch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BackfillResult), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	args := m.Called(ctx, ownerID, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchHit), args.Error(1)
}

func (m *MockSearchService) SearchText(ctx context.Context, ownerID string, req service.TextSearchRequest) ([]domain.SearchHit, error) {
	args := m.Called(ctx, ownerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchHit), args.Error(1)
}

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) Check(ctx context.Context, ownerID string, provider domain.Provider, opts service.SyncOptions) (*service.CheckResult, error) {
	args := m.Called(ctx, ownerID, provider, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CheckResult), args.Error(1)
}

func requestWithOwner(method, url string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.OwnerIDKey, "owner-1")
	return req.WithContext(ctx)
}

// withURLParams installs chi route params on req.
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
