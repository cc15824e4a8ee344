package auth

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// AccountStore persists accounts. Implementations return domain.ErrAccountNotFound
// for missing rows and domain.ErrEmailTaken when the unique email index rejects a write.
type AccountStore interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, account *domain.Account) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, page domain.Page) ([]*domain.Account, int, error)
}

// TokenStore persists tokens keyed by their unique value and by (owner, purpose).
type TokenStore interface {
	// Put inserts a token. It fails with domain.ErrTokenConflict if the value
	// or the (owner, purpose) slot is already taken.
	Put(ctx context.Context, token *domain.Token) error
	Get(ctx context.Context, value string) (*domain.Token, error)
	// Delete removes the token and returns domain.ErrTokenNotFound if it was
	// already gone. Exactly one concurrent caller observes success.
	Delete(ctx context.Context, token *domain.Token) error
	FindByOwnerAndPurpose(ctx context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error)
	// Replace atomically removes prev (which may be nil) and inserts next.
	// It fails with domain.ErrTokenConflict when another issuance won the slot.
	Replace(ctx context.Context, prev, next *domain.Token) error
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error
	DeleteIssuedBefore(ctx context.Context, purpose domain.TokenPurpose, cutoff time.Time) (int64, error)
}

// Transactor runs fn so that the store writes it performs commit or roll back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mailer delivers token links to account owners.
type Mailer interface {
	SendConfirmation(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// PictureStore holds profile picture objects by key.
type PictureStore interface {
	Save(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}
