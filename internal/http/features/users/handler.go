package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// multipartMemory is how much of a multipart upload is held in memory before
// spilling to temporary files.
const multipartMemory = 1 << 20

// Handler handles profile endpoints.
type Handler struct {
	logger   *slog.Logger
	profiles *auth.ProfileService
}

// NewHandler creates a new users handler.
func NewHandler(logger *slog.Logger, profiles *auth.ProfileService) *Handler {
	return &Handler{
		logger:   logger,
		profiles: profiles,
	}
}

// UpdateRequest represents a profile update. PATCH applies only the fields
// present; PUT requires all of them.
type UpdateRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// ListResponse is one page of users.
type ListResponse struct {
	Count   int                   `json:"count"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	Results []common.UserResponse `json:"results"`
}

// Me returns the authenticated account.
// GET /v1/users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserResponse(actor, h.profiles))
}

// List returns a page of accounts.
// GET /v1/users?limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := domain.Page{Limit: auth.DefaultPageLimit}
	verr := &domain.ValidationError{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			verr.Add("limit", "must be a positive integer")
		}
		page.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			verr.Add("offset", "must be a non-negative integer")
		}
		page.Offset = n
	}
	if verr.HasErrors() {
		httputil.ValidationError(w, verr)
		return
	}
	if page.Limit > auth.MaxPageLimit {
		page.Limit = auth.MaxPageLimit
	}

	accounts, total, err := h.profiles.List(r.Context(), page)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}

	resp := ListResponse{
		Count:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		Results: make([]common.UserResponse, 0, len(accounts)),
	}
	for _, account := range accounts {
		resp.Results = append(resp.Results, common.NewUserResponse(account, h.profiles))
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Get returns one account.
// GET /v1/users/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserResponse(account, h.profiles))
}

// Replace overwrites a profile.
// PUT /v1/users/{id}
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

// Update patches a profile.
// PATCH /v1/users/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, full bool) {
	actor, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if full {
		verr := &domain.ValidationError{}
		for field, value := range map[string]*string{"first_name": req.FirstName, "last_name": req.LastName, "email": req.Email} {
			if value == nil {
				verr.Add(field, "this field is required")
			}
		}
		if verr.HasErrors() {
			httputil.ValidationError(w, verr)
			return
		}
	}

	account, err := h.profiles.Update(r.Context(), actor, id, domain.AccountUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserResponse(account, h.profiles))
}

// Delete removes an account.
// DELETE /v1/users/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.profiles.Delete(r.Context(), actor, id); err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadPicture replaces the authenticated account's profile picture.
// PUT /v1/users/me/picture
func (h *Handler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.ValidationError(w, domain.NewValidationError("picture", "the submitted data was not a file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("picture")
	if err != nil {
		httputil.ValidationError(w, domain.NewValidationError("picture", "no file was submitted"))
		return
	}
	defer file.Close()

	account, err := h.profiles.UploadPicture(r.Context(), actor, header.Filename, file)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserResponse(account, h.profiles))
}

// RemovePicture clears the authenticated account's profile picture.
// DELETE /v1/users/me/picture
func (h *Handler) RemovePicture(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAccount(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}

	account, err := h.profiles.RemovePicture(r.Context(), actor)
	if err != nil {
		common.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserResponse(account, h.profiles))
}

// accountID parses the {id} path parameter. Malformed ids are reported as
// not found.
func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	return id, true
}
