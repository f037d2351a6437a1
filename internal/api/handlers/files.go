package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/api"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/go-chi/chi/v5"
)

const multipartMemory = 8 << 20

type IngestionService interface {
	Accept(ctx context.Context, ref domain.FileReference, opts service.AcceptOptions) (*service.AcceptResult, error)
	Get(ctx context.Context, ownerID, fileID string) (*service.FileStatus, error)
	Chunks(ctx context.Context, ownerID, fileID string) ([]domain.Chunk, error)
	List(ctx context.Context, ownerID, cursor string, limit int) (*service.FilePageResult, error)
	Retry(ctx context.Context, ownerID, fileID string, force bool) (*domain.IngestionJob, error)
	FetchContent(ctx context.Context, f *domain.FileRecord) ([]byte, error)
}

type ChecksumBackfiller interface {
	BackfillChecksums(ctx context.Context, ownerID string, fetch service.BufferFetcher) (*service.BackfillResult, error)
}

type FileHandler struct {
	svc            IngestionService
	backfill       ChecksumBackfiller
	maxUploadBytes int64
}

func NewFileHandler(svc IngestionService, backfill ChecksumBackfiller, maxUploadBytes int64) *FileHandler {
	return &FileHandler{svc: svc, backfill: backfill, maxUploadBytes: maxUploadBytes}
}

type ImportFileRequest struct {
	FileID       string    `json:"file_id"`
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Revision     string    `json:"revision"`
	DownloadURL  string    `json:"download_url"`
	LastModified time.Time `json:"last_modified"`
	Force        bool      `json:"force_regenerate"`
}

type FileResponse struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	MimeType     string  `json:"mime_type"`
	Size         int64   `json:"size"`
	Checksum     string  `json:"checksum,omitempty"`
	Source       string  `json:"source"`
	ExternalID   string  `json:"external_id,omitempty"`
	Status       string  `json:"status"`
	DuplicateOf  string  `json:"duplicate_of,omitempty"`
	ChunkCount   int     `json:"chunk_count"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	Error        string  `json:"error,omitempty"`
	LastModified *string `json:"last_modified,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type JobResponse struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Retries         int32   `json:"retries"`
	ForceRegenerate bool    `json:"force_regenerate"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
	ProcessedAt     *string `json:"processed_at,omitempty"`
}

type AcceptResponse struct {
	File     *FileResponse `json:"file"`
	Job      *JobResponse  `json:"job"`
	Requeued bool          `json:"requeued"`
}

type FileStatusResponse struct {
	File *FileResponse `json:"file"`
	Job  *JobResponse  `json:"job,omitempty"`
}

type ChunkResponse struct {
	Index          int    `json:"chunk_index"`
	Content        string `json:"content"`
	TokenCount     int    `json:"token_count"`
	EmbeddingModel string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions"`
}

type FileListResponse struct {
	Items   []*FileResponse `json:"items"`
	Cursor  string          `json:"cursor,omitempty"`
	HasMore bool            `json:"has_more"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fileToResponse(f *domain.FileRecord) *FileResponse {
	resp := &FileResponse{
		ID:          f.ID,
		Filename:    f.Filename,
		MimeType:    f.MimeType,
		Size:        f.Size,
		Checksum:    f.Checksum,
		Source:      string(f.Source),
		ExternalID:  f.ExternalID,
		Status:      string(f.Status),
		DuplicateOf: f.DuplicateOf,
		ChunkCount:  f.ChunkCount,
		ErrorKind:   string(f.ErrorKind),
		Error:       f.Error,
		CreatedAt:   formatTime(f.CreatedAt),
		UpdatedAt:   formatTime(f.UpdatedAt),
	}
	if !f.LastModified.IsZero() {
		lm := formatTime(f.LastModified)
		resp.LastModified = &lm
	}
	return resp
}

func jobToResponse(j *domain.IngestionJob) *JobResponse {
	if j == nil {
		return nil
	}
	resp := &JobResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		Retries:         j.Retries,
		ForceRegenerate: j.ForceRegenerate,
		Error:           j.Error,
		CreatedAt:       formatTime(j.CreatedAt),
	}
	if j.ProcessedAt != nil {
		p := formatTime(*j.ProcessedAt)
		resp.ProcessedAt = &p
	}
	return resp
}

func acceptToResponse(r *service.AcceptResult) *AcceptResponse {
	return &AcceptResponse{File: fileToResponse(r.File), Job: jobToResponse(r.Job), Requeued: r.Requeued}
}

// Upload accepts a multipart upload in the "file" field.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.maxUploadBytes > 0 {
		reader = io.LimitReader(file, h.maxUploadBytes+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if h.maxUploadBytes > 0 && int64(len(content)) > h.maxUploadBytes {
		api.Error(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	force, err := parseBool(r.FormValue("force_regenerate"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid force_regenerate")
		return
	}

	ref := domain.FileReference{
		OwnerID:      ownerID,
		Source:       domain.SourceUpload,
		Filename:     header.Filename,
		MimeType:     uploadMimeType(r.FormValue("mime_type"), header.Header.Get("Content-Type"), header.Filename),
		Content:      content,
		LastModified: time.Now().UTC(),
	}

	result, err := h.svc.Accept(r.Context(), ref, service.AcceptOptions{ForceRegenerate: force})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, acceptToResponse(result))
}

// Import accepts a reference to content the service downloads itself.
func (h *FileHandler) Import(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ImportFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DownloadURL == "" {
		api.Error(w, http.StatusBadRequest, "download_url is required")
		return
	}
	source, err := domain.ParseSource(req.Source)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid source")
		return
	}

	ref := domain.FileReference{
		OwnerID:      ownerID,
		FileID:       req.FileID,
		Source:       source,
		ExternalID:   req.ExternalID,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		Size:         req.Size,
		Revision:     req.Revision,
		DownloadURL:  req.DownloadURL,
		LastModified: req.LastModified,
	}

	result, err := h.svc.Accept(r.Context(), ref, service.AcceptOptions{ForceRegenerate: req.Force})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Requeued {
		status = http.StatusOK
	}
	api.Success(w, status, acceptToResponse(result))
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	status, err := h.svc.Get(r.Context(), ownerID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &FileStatusResponse{File: fileToResponse(status.File), Job: jobToResponse(status.Job)})
}

func (h *FileHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	chunks, err := h.svc.Chunks(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]ChunkResponse, len(chunks))
	for i, c := range chunks {
		resp[i] = ChunkResponse{
			Index:          c.Index,
			Content:        c.Content,
			TokenCount:     c.TokenCount,
			EmbeddingModel: c.EmbeddingModel,
			Dimensions:     c.Dimensions,
		}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	page, err := h.svc.List(r.Context(), ownerID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*FileResponse, len(page.Items))
	for i, f := range page.Items {
		items[i] = fileToResponse(f)
	}
	api.Success(w, http.StatusOK, &FileListResponse{Items: items, Cursor: page.NextCursor, HasMore: page.HasMore})
}

// Retry requeues a failed file, or re-embeds a completed one with ?force=true.
func (h *FileHandler) Retry(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	force, err := parseBool(r.URL.Query().Get("force"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid force")
		return
	}

	job, err := h.svc.Retry(r.Context(), ownerID, id, force)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

// BackfillChecksums fills in missing checksums for the owner's files.
func (h *FileHandler) BackfillChecksums(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.backfill.BackfillChecksums(r.Context(), ownerID, h.svc.FetchContent)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func uploadMimeType(explicit, partType, filename string) string {
	for _, candidate := range []string{explicit, partType} {
		if candidate != "" && candidate != "application/octet-stream" {
			return candidate
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "text/markdown"
	}
	return "text/plain"
}
