package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// WriteError maps a service error onto an HTTP response. Unexpected errors
// are logged and hidden behind a 500.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ValidationError(w, verr)
	case errors.Is(err, domain.ErrValidation):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAuthenticationFailed):
		httputil.Error(w, http.StatusBadRequest, domain.ErrAuthenticationFailed.Error())
	case errors.Is(err, domain.ErrTokenNotFound):
		httputil.Error(w, http.StatusNotFound, "invalid or already used token")
	case errors.Is(err, domain.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrTokenExpired):
		httputil.Error(w, http.StatusBadRequest, domain.ErrTokenExpired.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		httputil.Error(w, http.StatusForbidden, "you do not have permission to perform this action")
	case errors.Is(err, domain.ErrServiceUnavailable):
		logger.Warn("notification unavailable", "error", err, "path", r.URL.Path)
		httputil.Error(w, http.StatusServiceUnavailable, "unable to send email, please try again later")
	default:
		logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// Required reports a missing field as a validation error. It returns false
// when a response was written.
func Required(w http.ResponseWriter, fields map[string]string) bool {
	verr := &domain.ValidationError{}
	for name, value := range fields {
		if value == "" {
			verr.Add(name, "this field is required")
		}
	}
	if verr.HasErrors() {
		httputil.ValidationError(w, verr)
		return false
	}
	return true
}
