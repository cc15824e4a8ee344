package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/domain"
)

type contextKey string

const (
	// AccountKey is the context key for the authenticated account.
	AccountKey contextKey = "account"
	// TokenKey is the context key for the auth token the request presented.
	TokenKey contextKey = "token"
)

// Authenticator resolves an auth token value to its active owner.
type Authenticator interface {
	Authenticate(ctx context.Context, value string) (*domain.Account, *domain.Token, error)
}

// Auth creates middleware that requires a valid auth token in the
// Authorization header. Authenticator failures other than a rejected or
// expired token are logged and answered with 500.
func Auth(logger *slog.Logger, authenticator Authenticator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value, ok := httputil.TokenFromRequest(r)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}

			account, token, err := authenticator.Authenticate(r.Context(), value)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrTokenExpired):
				httputil.Error(w, http.StatusUnauthorized, "token has expired")
				return
			case errors.Is(err, domain.ErrAuthenticationFailed):
				httputil.Error(w, http.StatusUnauthorized, "invalid token")
				return
			default:
				logger.Error("authentication failed", "error", err, "method", r.Method, "path", r.URL.Path)
				httputil.Error(w, http.StatusInternalServerError, "internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			ctx = context.WithValue(ctx, TokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccount extracts the authenticated account from the request context.
func GetAccount(ctx context.Context) (*domain.Account, bool) {
	account, ok := ctx.Value(AccountKey).(*domain.Account)
	return account, ok
}

// GetToken extracts the presented auth token from the request context.
func GetToken(ctx context.Context) (*domain.Token, bool) {
	token, ok := ctx.Value(TokenKey).(*domain.Token)
	return token, ok
}
