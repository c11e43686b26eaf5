package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with the routes for the handler's mode
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		if h.mode == "hub" {
			r.Post("/quality", h.UpdateQuality)
			r.Get("/quality", h.GetQuality)
			r.Post("/shipment", h.UpdateShipment)
			r.Get("/shipment", h.GetShipment)
			r.Post("/sync", h.RegisterChange)
			r.Get("/sync", h.GetChanges)
		} else {
			r.Get("/sync/status", h.SyncStatus)
			r.Post("/sync", h.TriggerSync)
		}
	})

	return r
}
