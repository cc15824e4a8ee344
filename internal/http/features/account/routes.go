package account

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
)

// RegisterRoutes registers account lifecycle routes.
func (h *Handler) RegisterRoutes(r chi.Router, m common.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(m.Limit(middleware.LimitAuth))
		r.Post("/v1/accounts/register", h.Register)
		r.Post("/v1/accounts/login", h.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(m.Limit(middleware.LimitConfirm))
		r.Get("/v1/accounts/confirm", h.ConfirmLink)
		r.Post("/v1/accounts/confirm", h.Confirm)
		r.Post("/v1/accounts/confirm/resend", h.ResendConfirmation)
	})
	r.With(m.RequireAuth).Post("/v1/accounts/logout", h.Logout)
}
