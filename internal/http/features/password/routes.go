package password

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
)

// RegisterRoutes registers password reset and change routes.
func (h *Handler) RegisterRoutes(r chi.Router, m common.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(m.Limit(middleware.LimitReset))
		r.Post("/v1/accounts/password/reset-request", h.RequestReset)
		r.Get("/v1/accounts/password/reset", h.CheckReset)
		r.Post("/v1/accounts/password/reset", h.Reset)
	})
	r.With(m.RequireAuth).Post("/v1/accounts/password/change", h.Change)
}
