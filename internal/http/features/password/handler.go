package password

import (
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
)

// Handler handles password reset and change endpoints.
type Handler struct {
	logger   *slog.Logger
	accounts *auth.AccountService
}

// NewHandler creates a new password handler.
func NewHandler(logger *slog.Logger, accounts *auth.AccountService) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
	}
}

// ResetRequest represents a password reset request.
type ResetRequest struct {
	Email string `json:"email"`
}

// ResetConfirmRequest completes a password reset.
type ResetConfirmRequest struct {
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// ChangeRequest represents an authenticated password change.
type ChangeRequest struct {
	OldPassword             string `json:"old_password"`
	NewPassword             string `json:"new_password"`
	NewPasswordConfirmation string `json:"new_password_confirmation"`
}

// RequestReset mails a password reset link. Unknown addresses get the same
// response as known ones.
// POST /v1/accounts/password/reset-request
func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !common.Required(w, map[string]string{"email": req.Email}) {
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{
		Detail: "if an account exists for this address, a password reset email has been sent",
	})
}

// CheckReset reports whether a reset token can still be used.
// GET /v1/accounts/password/reset?token=
func (h *Handler) CheckReset(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !common.Required(w, map[string]string{"token": token}) {
		return
	}

	if err := h.accounts.CheckPasswordReset(r.Context(), token); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{Detail: "token is valid"})
}

// Reset sets a new password using a reset token.
// POST /v1/accounts/password/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !common.Required(w, map[string]string{"token": req.Token}) {
		return
	}

	err := h.accounts.ConfirmPasswordReset(r.Context(), auth.ResetInput{
		Token:                req.Token,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{Detail: "password has been reset"})
}

// Change replaces the authenticated account's password.
// POST /v1/accounts/password/change
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}

	var req ChangeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	err := h.accounts.ChangePassword(r.Context(), account, auth.ChangePasswordInput{
		OldPassword:             req.OldPassword,
		NewPassword:             req.NewPassword,
		NewPasswordConfirmation: req.NewPasswordConfirmation,
	})
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{Detail: "password has been changed"})
}
