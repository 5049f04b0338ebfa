package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/likevault/internal/api/handler"
	mw "github.com/iconidentify/likevault/internal/api/middleware"
)

// Handlers groups the route handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Catalog *handler.CatalogHandler
	Delete  *handler.DeleteHandler
	Export  *handler.ExportHandler
	Events  *handler.EventHandler
	Sync    *handler.SyncHandler
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h Handlers, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS)

	r.Get("/health", h.Health.Live)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Get("/status", h.Health.Status)

		// Event stream stays open; everything else is bounded.
		r.Get("/events/stream", h.Events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Minute))

			r.Get("/catalog", h.Catalog.List)
			r.Post("/refresh", h.Catalog.Refresh)

			r.Post("/sync/pause", h.Sync.Pause)
			r.Post("/sync/resume", h.Sync.Resume)
			r.Post("/sync/check", h.Sync.Check)
			r.Get("/sync/activity", h.Sync.Activity)
			r.Post("/observed", h.Catalog.Observed)
			r.Post("/session", h.Catalog.Session)

			r.Post("/delete", h.Delete.Delete)
			r.Post("/delete/batch", h.Delete.Batch)

			r.Post("/export", h.Export.Stream)
			r.Post("/export/sink", h.Export.Deliver)

			r.Get("/events", h.Events.List)
		})
	})

	return r
}
