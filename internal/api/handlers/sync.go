package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cloo-solutions/briefly/internal/api"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/service"
	"github.com/go-chi/chi/v5"
)

type SyncService interface {
	Check(ctx context.Context, ownerID string, provider domain.Provider, opts service.SyncOptions) (*service.CheckResult, error)
}

type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

type SyncCheckRequest struct {
	FullResync bool `json:"fullResync"`
	Enqueue    bool `json:"enqueue"`
}

// Check compares the provider listing with local records. The body is
// optional.
func (h *SyncHandler) Check(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	if ownerID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid provider")
		return
	}

	var req SyncCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Check(r.Context(), ownerID, provider, service.SyncOptions{
		FullResync: req.FullResync,
		Enqueue:    req.Enqueue,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}
