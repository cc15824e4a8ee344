package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/internal/metrics"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// TokenIssuer creates tokens, keeping at most one live token per (owner, purpose).
type TokenIssuer struct {
	tokens     TokenStore
	tokenBytes int
	now        func() time.Time
}

// NewTokenIssuer creates a new token issuer.
func NewTokenIssuer(tokens TokenStore, tokenBytes int) *TokenIssuer {
	if tokenBytes <= 0 {
		tokenBytes = DefaultTokenBytes
	}
	return &TokenIssuer{
		tokens:     tokens,
		tokenBytes: tokenBytes,
		now:        time.Now,
	}
}

// Issue creates a new token for owner and purpose, replacing any prior token
// for the same pair. When called inside Transactor.WithinTx the replacement
// joins the enclosing transaction.
func (i *TokenIssuer) Issue(ctx context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error) {
	token, _, err := i.issue(ctx, ownerID, purpose)
	return token, err
}

// issue is Issue that also returns the token it replaced, nil if none.
func (i *TokenIssuer) issue(ctx context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, *domain.Token, error) {
	value, err := GenerateToken(i.tokenBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token: %w", err)
	}

	prev, err := i.tokens.FindByOwnerAndPurpose(ctx, ownerID, purpose)
	if err != nil {
		if !errors.Is(err, domain.ErrTokenNotFound) {
			return nil, nil, fmt.Errorf("failed to look up existing token: %w", err)
		}
		prev = nil
	}

	token := &domain.Token{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Purpose:  purpose,
		Value:    value,
		IssuedAt: i.now().UTC(),
	}

	if err := i.tokens.Replace(ctx, prev, token); err != nil {
		return nil, nil, fmt.Errorf("failed to store token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues(purpose.String()).Inc()
	return token, prev, nil
}

// TokenValidator resolves presented token values to their owners.
type TokenValidator struct {
	logger   *slog.Logger
	tokens   TokenStore
	accounts AccountStore
	issuer   *TokenIssuer
	now      func() time.Time
}

// NewTokenValidator creates a new token validator. Expired auth tokens are
// rotated through issuer.
func NewTokenValidator(logger *slog.Logger, tokens TokenStore, accounts AccountStore, issuer *TokenIssuer) *TokenValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenValidator{
		logger:   logger,
		tokens:   tokens,
		accounts: accounts,
		issuer:   issuer,
		now:      time.Now,
	}
}

// Validate looks up value, checks it was issued for purpose and is no older
// than ttl (ttl <= 0 never expires), and returns the owning account.
//
// An expired one-time token is deleted. An expired auth token is rotated: it
// is replaced by a fresh token for the same owner and the call still fails
// with domain.ErrTokenExpired. The success path performs no writes.
func (v *TokenValidator) Validate(ctx context.Context, value string, purpose domain.TokenPurpose, ttl time.Duration) (*domain.Account, *domain.Token, error) {
	if value == "" {
		v.observe(purpose, metrics.ResultNotFound)
		return nil, nil, domain.ErrTokenNotFound
	}

	token, err := v.tokens.Get(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			v.observe(purpose, metrics.ResultNotFound)
			return nil, nil, domain.ErrTokenNotFound
		}
		v.observe(purpose, metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to get token: %w", err)
	}

	if token.Purpose != purpose {
		v.observe(purpose, metrics.ResultNotFound)
		return nil, nil, domain.ErrTokenNotFound
	}

	if token.Expired(v.now(), ttl) {
		v.expire(ctx, token)
		v.observe(purpose, metrics.ResultExpired)
		return nil, nil, domain.ErrTokenExpired
	}

	account, err := v.accounts.GetByID(ctx, token.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			v.observe(purpose, metrics.ResultNotFound)
			return nil, nil, domain.ErrTokenNotFound
		}
		v.observe(purpose, metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to get token owner: %w", err)
	}

	v.observe(purpose, metrics.ResultOK)
	return account, token, nil
}

func (v *TokenValidator) expire(ctx context.Context, token *domain.Token) {
	if token.Purpose.OneTimeUse() {
		if err := v.tokens.Delete(ctx, token); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
			v.logger.Error("failed to delete expired token", "error", err, "account_id", token.OwnerID, "purpose", token.Purpose)
		}
		return
	}

	// Rotation replaces the expired token in one step.
	if _, err := v.issuer.Issue(ctx, token.OwnerID, token.Purpose); err != nil {
		if errors.Is(err, domain.ErrTokenConflict) {
			return
		}
		v.logger.Error("failed to rotate expired token", "error", err, "account_id", token.OwnerID, "purpose", token.Purpose)
	}
}

func (v *TokenValidator) observe(purpose domain.TokenPurpose, result string) {
	metrics.TokenValidations.WithLabelValues(purpose.String(), result).Inc()
}
