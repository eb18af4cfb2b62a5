package photo

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns photo router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/confirm", h.Confirm)
	r.Get("/{id}/download", h.Download)
	r.Delete("/{id}", h.Delete)

	return r
}

// UploadRoutes returns upload router
func (h *Handler) UploadRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/presign", h.Presign)

	return r
}
