package orders

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Post("/orders", h.Create)
	r.Get("/orders/{id}", h.Show)
	r.Patch("/orders/{id}", h.Update)
	r.Post("/orders/{id}/status", h.UpdateStatus)
	r.Put("/orders/{id}/items", h.UpdateContent)
	r.Post("/orders/{id}/cancel", h.action(h.service.Cancel))
	r.Post("/orders/{id}/deactivate", h.action(h.service.Deactivate))
	r.Post("/orders/{id}/activate", h.action(h.service.Activate))
}
