// Package common holds helpers shared by the feature handlers.
package common

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// Middleware bundles the middleware that feature routes attach to.
type Middleware struct {
	RequireAuth func(http.Handler) http.Handler
	RateLimit   map[string]func(http.Handler) http.Handler
}

// Limit returns the named rate limiter, or a pass-through when none is set.
func (m Middleware) Limit(name string) func(http.Handler) http.Handler {
	if limiter, ok := m.RateLimit[name]; ok && limiter != nil {
		return limiter
	}
	return func(next http.Handler) http.Handler { return next }
}

// PictureURLer resolves an account's picture to its public URL.
type PictureURLer interface {
	PictureURL(account *domain.Account) string
}

// UserResponse is the public representation of an account.
type UserResponse struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	FullName       string     `json:"full_name"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	IsActive       bool       `json:"is_active"`
	IsStaff        bool       `json:"is_staff"`
	LastLogin      *time.Time `json:"last_login"`
	DateJoined     time.Time  `json:"date_joined"`
}

// NewUserResponse builds the public representation of account.
func NewUserResponse(account *domain.Account, pictures PictureURLer) UserResponse {
	resp := UserResponse{
		ID:         account.ID,
		Email:      account.Email,
		FirstName:  account.FirstName,
		LastName:   account.LastName,
		FullName:   account.FullName(),
		IsActive:   account.IsActive,
		IsStaff:    account.IsStaff,
		LastLogin:  account.LastLogin,
		DateJoined: account.CreatedAt,
	}
	if pictures != nil {
		resp.ProfilePicture = pictures.PictureURL(account)
	}
	return resp
}

// DetailResponse carries a human readable outcome.
type DetailResponse struct {
	Detail string `json:"detail"`
}
