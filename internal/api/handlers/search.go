package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/briefly/internal/api"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, ownerID string, query []float32, opts domain.SearchOptions) ([]domain.SearchHit, error)
	SearchText(ctx context.Context, ownerID string, req service.TextSearchRequest) ([]domain.SearchHit, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type VectorSearchRequest struct {
	QueryVector         []float32 `json:"queryVector"`
	TopK                int       `json:"topK"`
	SimilarityThreshold float64   `json:"similarityThreshold"`
	FileIDs             []string  `json:"fileIds"`
}

type TextSearchRequest struct {
	Query               string   `json:"query"`
	TopK                int      `json:"topK"`
	SimilarityThreshold float64  `json:"similarityThreshold"`
	FileIDs             []string `json:"fileIds"`
}

// Vector runs a similarity search with a caller-supplied query vector.
func (h *SearchHandler) Vector(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VectorSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.QueryVector) == 0 {
		api.Error(w, http.StatusBadRequest, "queryVector is required")
		return
	}

	hits, err := h.svc.Search(r.Context(), ownerID, req.QueryVector, domain.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.SimilarityThreshold,
		FileIDs:   req.FileIDs,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, nonNilHits(hits))
}

// Text embeds the query with the platform model and searches with it.
func (h *SearchHandler) Text(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TextSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	hits, err := h.svc.SearchText(r.Context(), ownerID, service.TextSearchRequest{
		Query:     req.Query,
		TopK:      req.TopK,
		Threshold: req.SimilarityThreshold,
		FileIDs:   req.FileIDs,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, nonNilHits(hits))
}

func nonNilHits(hits []domain.SearchHit) []domain.SearchHit {
	if hits == nil {
		return []domain.SearchHit{}
	}
	return hits
}
