//go:build e2e

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/briefly/internal/api/handlers"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/extract"
	"github.com/cloo-solutions/briefly/internal/jobs"
	"github.com/cloo-solutions/briefly/internal/openai"
	"github.com/cloo-solutions/briefly/internal/provider"
	"github.com/cloo-solutions/briefly/internal/repository"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/cloo-solutions/briefly/internal/storage"
	"github.com/cloo-solutions/briefly/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	e2eToken = "e2e-token"
	e2eOwner = "owner-e2e"
	e2eModel = "test-embedding"
)

// fakeEmbeddings answers the OpenAI embeddings endpoint with a vector that
// only depends on whether the input mentions revenue.
func fakeEmbeddings(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i, in := range req.Input {
			vec := []float32{0, 1, 0}
			if strings.Contains(strings.ToLower(in), "revenue") {
				vec = []float32{1, 0, 0}
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 5 * len(req.Input), "total_tokens": 5 * len(req.Input)},
		})
	}))
}

// fakeDrive serves a one-page Drive listing and the file body.
func fakeDrive(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer drive-token", r.Header.Get("Authorization"))
		switch {
		case r.URL.Path == "/drive/v3/files":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{"files": [
				{"id": "g-1", "name": "plan.txt", "mimeType": "text/plain", "size": "24", "version": "1", "modifiedTime": "2024-03-01T12:00:00.000Z"}
			]}`)
		case r.URL.Path == "/drive/v3/files/g-1":
			_, _ = fmt.Fprint(w, "Hiring plan for next year")
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

type e2eEnv struct {
	t      *testing.T
	ctx    context.Context
	pool   *pgxpool.Pool
	srv    *httptest.Server
	worker *jobs.IngestionWorker
}

func setupE2E(t *testing.T) *e2eEnv {
	ctx := context.Background()

	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })
	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)

	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	embedSrv := fakeEmbeddings(t)
	t.Cleanup(embedSrv.Close)
	driveSrv := fakeDrive(t)
	t.Cleanup(driveSrv.Close)

	files := repository.NewFileRecordRepository(pool)
	jobRepo := repository.NewIngestionJobRepository(pool)
	creds := repository.NewCredentialRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	vectors := service.NewVectorStore(chunks)

	client := openai.NewClientWithConfig(openai.Config{APIKey: "sk-test", BaseURL: embedSrv.URL + "/v1"})
	embedder := service.NewEmbeddingService(client, chunks, service.EmbeddingConfig{Model: e2eModel})
	dedup := service.NewDedupService(files, false)

	ingest := service.NewIngestionService(service.IngestionDeps{
		Files:      files,
		Jobs:       jobRepo,
		TxRunner:   repository.NewTxRunner(pool),
		Blobs:      blobs,
		Downloader: provider.NewHTTPDownloader(driveSrv.Client(), provider.DownloaderConfig{}),
		Tokens:     creds,
		Extractor:  extract.New(),
		Dedup:      dedup,
		Chunker:    service.NewChunker(domain.ChunkStrategyParagraph, domain.DefaultChunkParams()),
		Embedder:   embedder,
		Vectors:    vectors,
	}, 1<<20)

	syncSvc := service.NewSyncService(
		repository.NewSyncConnectionRepository(pool), files, creds,
		map[domain.Provider]service.FileLister{domain.ProviderGoogle: provider.NewGoogleDrive(driveSrv.Client(), driveSrv.URL)},
		ingest, service.SyncConfig{},
	)

	router := NewRouter(RouterConfig{
		AuthValidator:  middleware.StaticToken(e2eToken),
		FileHandler:    handlers.NewFileHandler(ingest, dedup, 1<<20),
		SearchHandler:  handlers.NewSearchHandler(service.NewSearchService(embedder, vectors, files, 16, 0)),
		SyncHandler:    handlers.NewSyncHandler(syncSvc),
		MaxUploadBytes: 1 << 20,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &e2eEnv{
		t:      t,
		ctx:    ctx,
		pool:   pool,
		srv:    srv,
		worker: jobs.NewIngestionWorker(jobRepo, ingest, jobs.IngestionWorkerConfig{}),
	}
}

func (e *e2eEnv) do(method, path, contentType string, body io.Reader) (int, json.RawMessage) {
	e.t.Helper()
	req, err := http.NewRequestWithContext(e.ctx, method, e.srv.URL+path, body)
	require.NoError(e.t, err)
	req.Header.Set("Authorization", "Bearer "+e2eToken)
	req.Header.Set(middleware.OwnerHeader, e2eOwner)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &envelope), string(raw))
	}
	return resp.StatusCode, envelope.Data
}

func (e *e2eEnv) upload(name, content string) handlers.AcceptResponse {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(e.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	status, data := e.do(http.MethodPost, "/v1/files", mw.FormDataContentType(), &buf)
	require.Equal(e.t, http.StatusAccepted, status, string(data))

	var accepted handlers.AcceptResponse
	require.NoError(e.t, json.Unmarshal(data, &accepted))
	return accepted
}

func (e *e2eEnv) file(id string) handlers.FileStatusResponse {
	e.t.Helper()
	status, data := e.do(http.MethodGet, "/v1/files/"+id, "", nil)
	require.Equal(e.t, http.StatusOK, status, string(data))

	var fs handlers.FileStatusResponse
	require.NoError(e.t, json.Unmarshal(data, &fs))
	return fs
}

func TestE2E_UploadIndexSearchAndDedup(t *testing.T) {
	env := setupE2E(t)

	first := env.upload("q3.md", "# Q3 report\n\nRevenue grew 12 percent over the quarter.")
	assert.Equal(t, "pending", first.File.Status)
	require.NoError(t, env.worker.ProcessJobs(env.ctx))

	got := env.file(first.File.ID)
	assert.Equal(t, "completed", got.File.Status)
	assert.Equal(t, 1, got.File.ChunkCount)
	assert.NotEmpty(t, got.File.Checksum)
	require.NotNil(t, got.Job)
	assert.Equal(t, "completed", got.Job.Status)

	copyOf := env.upload("copy.md", "# Q3 report\n\nRevenue grew 12 percent over the quarter.")
	require.NoError(t, env.worker.ProcessJobs(env.ctx))

	dup := env.file(copyOf.File.ID)
	assert.Equal(t, "completed", dup.File.Status)
	assert.Equal(t, first.File.ID, dup.File.DuplicateOf)

	status, data := env.do(http.MethodPost, "/v1/search/text", "application/json",
		strings.NewReader(`{"query":"how did revenue do?","topK":5}`))
	require.Equal(t, http.StatusOK, status, string(data))

	var hits []domain.SearchHit
	require.NoError(t, json.Unmarshal(data, &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, first.File.ID, hits[0].FileID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestE2E_UnsupportedTypeFailsPermanently(t *testing.T) {
	env := setupE2E(t)

	accepted := env.upload("data.json", `{"broken":`)
	require.NoError(t, env.worker.ProcessJobs(env.ctx))

	got := env.file(accepted.File.ID)
	assert.Equal(t, "failed", got.File.Status)
	assert.Equal(t, string(domain.KindExtraction), got.File.ErrorKind)
	require.NotNil(t, got.Job)
	assert.Equal(t, "failed", got.Job.Status)
}

func TestE2E_SyncEnqueuesNewProviderFiles(t *testing.T) {
	env := setupE2E(t)

	_, err := env.pool.Exec(env.ctx,
		`INSERT INTO oauth_tokens (owner_id, provider, access_token) VALUES ($1, 'google', 'drive-token')`, e2eOwner)
	require.NoError(t, err)

	status, data := env.do(http.MethodPost, "/v1/sync/google/check", "application/json", strings.NewReader(`{"enqueue":true}`))
	require.Equal(t, http.StatusOK, status, string(data))

	var result service.CheckResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 1, result.Summary.New)
	assert.Equal(t, 1, result.Enqueued)
	assert.True(t, result.Complete)

	require.NoError(t, env.worker.ProcessJobs(env.ctx))

	status, data = env.do(http.MethodGet, "/v1/files", "", nil)
	require.Equal(t, http.StatusOK, status)
	var list handlers.FileListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "g-1", list.Items[0].ExternalID)
	assert.Equal(t, "completed", list.Items[0].Status)

	// a second check sees the file as unchanged
	status, data = env.do(http.MethodPost, "/v1/sync/google/check", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 0, result.Summary.New)
	assert.Equal(t, 1, result.Summary.Unchanged)
}
