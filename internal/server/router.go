package server

import (
	"net/http"

	"github.com/cloo-solutions/briefly/internal/api"
	"github.com/cloo-solutions/briefly/internal/api/handlers"
	"github.com/cloo-solutions/briefly/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

// multipartSlack covers multipart framing and form fields around an upload.
const multipartSlack int64 = 1 << 20

type RouterConfig struct {
	AuthValidator  middleware.AuthValidator
	FileHandler    *handlers.FileHandler
	SearchHandler  *handlers.SearchHandler
	SyncHandler    *handlers.SyncHandler
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := int64(5 * 1024 * 1024)
	if cfg.MaxUploadBytes > 0 {
		maxBodyBytes = cfg.MaxUploadBytes + multipartSlack
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.OwnerAuth(cfg.AuthValidator))

		r.Route("/files", func(r chi.Router) {
			r.Post("/", cfg.FileHandler.Upload)
			r.Get("/", cfg.FileHandler.List)
			r.Post("/import", cfg.FileHandler.Import)
			r.Post("/backfill-checksums", cfg.FileHandler.BackfillChecksums)
			r.Get("/{id}", cfg.FileHandler.Get)
			r.Get("/{id}/chunks", cfg.FileHandler.Chunks)
			r.Post("/{id}/retry", cfg.FileHandler.Retry)
		})

		r.Post("/search", cfg.SearchHandler.Vector)
		r.Post("/search/text", cfg.SearchHandler.Text)

		r.Post("/sync/{provider}/check", cfg.SyncHandler.Check)
	})

	return r
}
