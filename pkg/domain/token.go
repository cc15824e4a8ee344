package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenPurpose classifies which operation may consume a token.
type TokenPurpose string

const (
	TokenPurposeConfirmation  TokenPurpose = "confirmation"
	TokenPurposeAuth          TokenPurpose = "auth"
	TokenPurposePasswordReset TokenPurpose = "password_reset"
)

// ParseTokenPurpose converts a stored purpose string into a TokenPurpose.
func ParseTokenPurpose(s string) (TokenPurpose, error) {
	switch p := TokenPurpose(s); p {
	case TokenPurposeConfirmation, TokenPurposeAuth, TokenPurposePasswordReset:
		return p, nil
	}
	return "", fmt.Errorf("unknown token purpose %q", s)
}

// OneTimeUse reports whether tokens of this purpose are destroyed when consumed.
func (p TokenPurpose) OneTimeUse() bool {
	return p == TokenPurposeConfirmation || p == TokenPurposePasswordReset
}

func (p TokenPurpose) String() string {
	return string(p)
}

// Token is an opaque credential owned by a single account.
type Token struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Purpose  TokenPurpose
	Value    string
	IssuedAt time.Time
}

// Age returns how long ago the token was issued relative to now.
func (t *Token) Age(now time.Time) time.Duration {
	return now.Sub(t.IssuedAt)
}

// Expired reports whether the token is older than ttl at now.
// A zero or negative ttl means the token never expires.
func (t *Token) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return t.Age(now) > ttl
}
