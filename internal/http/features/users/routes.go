package users

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-accounts/internal/http/features/common"
)

// RegisterRoutes registers profile routes. All of them require authentication.
func (h *Handler) RegisterRoutes(r chi.Router, m common.Middleware) {
	r.Route("/v1/users", func(r chi.Router) {
		r.Use(m.RequireAuth)
		r.Get("/", h.List)
		r.Get("/me", h.Me)
		r.Put("/me/picture", h.UploadPicture)
		r.Delete("/me/picture", h.RemovePicture)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Replace)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}
