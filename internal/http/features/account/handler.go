package account

import (
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
)

// Handler handles registration, confirmation, login and logout.
type Handler struct {
	logger   *slog.Logger
	accounts *auth.AccountService
	pictures common.PictureURLer
}

// NewHandler creates a new account handler.
func NewHandler(logger *slog.Logger, accounts *auth.AccountService, pictures common.PictureURLer) *Handler {
	return &Handler{
		logger:   logger,
		accounts: accounts,
		pictures: pictures,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email                string `json:"email"`
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// TokenRequest carries a confirmation token in the body.
type TokenRequest struct {
	Token string `json:"token"`
}

// EmailRequest carries an email address.
type EmailRequest struct {
	Email string `json:"email"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the auth token and its owner.
type LoginResponse struct {
	Token string              `json:"token"`
	User  common.UserResponse `json:"user"`
}

// Register creates an inactive account and mails its confirmation link.
// POST /v1/accounts/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.Register(r.Context(), auth.RegisterInput{
		Email:                req.Email,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, common.NewUserResponse(account, h.pictures))
}

// ConfirmLink activates an account from the emailed link.
// GET /v1/accounts/confirm?token=
func (h *Handler) ConfirmLink(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, r.URL.Query().Get("token"))
}

// Confirm activates an account from a posted token.
// POST /v1/accounts/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	h.confirm(w, r, req.Token)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, token string) {
	if !common.Required(w, map[string]string{"token": token}) {
		return
	}

	account, err := h.accounts.Confirm(r.Context(), token)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewUserResponse(account, h.pictures))
}

// ResendConfirmation mails a fresh confirmation link. The response does not
// reveal whether the address is registered.
// POST /v1/accounts/confirm/resend
func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !common.Required(w, map[string]string{"email": req.Email}) {
		return
	}

	if err := h.accounts.ResendConfirmation(r.Context(), req.Email); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{
		Detail: "if an unconfirmed account exists for this address, a confirmation email has been sent",
	})
}

// Login exchanges credentials for an auth token.
// POST /v1/accounts/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !common.Required(w, map[string]string{"email": req.Email, "password": req.Password}) {
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, LoginResponse{
		Token: result.Token,
		User:  common.NewUserResponse(result.Account, h.pictures),
	})
}

// Logout deletes the presented auth token.
// POST /v1/accounts/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetToken(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}

	if err := h.accounts.Logout(r.Context(), token.Value); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.DetailResponse{Detail: "successfully logged out"})
}
