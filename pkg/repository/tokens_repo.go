package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// TokensRepository handles token persistence.
type TokensRepository struct {
	db *sql.DB
}

// NewTokensRepository creates a new tokens repository.
func NewTokensRepository(db *sql.DB) *TokensRepository {
	return &TokensRepository{db: db}
}

// Put inserts a token.
func (r *TokensRepository) Put(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens (id, owner_id, purpose, value, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, t.ID, t.OwnerID, string(t.Purpose), t.Value, t.IssuedAt)
	if isUniqueViolation(err, "") {
		return domain.ErrTokenConflict
	}
	return err
}

// Get retrieves a token by value.
func (r *TokensRepository) Get(ctx context.Context, value string) (*domain.Token, error) {
	query := `SELECT id, owner_id, purpose, value, issued_at FROM tokens WHERE value = $1`
	return scanToken(conn(ctx, r.db).QueryRowContext(ctx, query, value))
}

// FindByOwnerAndPurpose retrieves the owner's token for purpose.
func (r *TokensRepository) FindByOwnerAndPurpose(ctx context.Context, ownerID uuid.UUID, purpose domain.TokenPurpose) (*domain.Token, error) {
	query := `SELECT id, owner_id, purpose, value, issued_at FROM tokens WHERE owner_id = $1 AND purpose = $2`
	return scanToken(conn(ctx, r.db).QueryRowContext(ctx, query, ownerID, string(purpose)))
}

// Delete removes a token by value.
func (r *TokensRepository) Delete(ctx context.Context, t *domain.Token) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM tokens WHERE value = $1`, t.Value)
	return affectedOne(result, err, domain.ErrTokenNotFound)
}

// Replace deletes prev and inserts next in one transaction, joining the
// caller's transaction when there is one.
func (r *TokensRepository) Replace(ctx context.Context, prev, next *domain.Token) error {
	return Tx(ctx, r.db, func(ctx context.Context) error {
		if prev != nil {
			if err := r.Delete(ctx, prev); err != nil {
				if errors.Is(err, domain.ErrTokenNotFound) {
					return domain.ErrTokenConflict
				}
				return err
			}
		}
		return r.Put(ctx, next)
	})
}

// DeleteByOwner removes every token of an owner.
func (r *TokensRepository) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM tokens WHERE owner_id = $1`, ownerID)
	return err
}

// DeleteIssuedBefore removes tokens of purpose issued before cutoff and
// returns how many were removed.
func (r *TokensRepository) DeleteIssuedBefore(ctx context.Context, purpose domain.TokenPurpose, cutoff time.Time) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM tokens WHERE purpose = $1 AND issued_at < $2`, string(purpose), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanToken(row scanner) (*domain.Token, error) {
	t := &domain.Token{}
	var purpose string
	err := row.Scan(&t.ID, &t.OwnerID, &purpose, &t.Value, &t.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Purpose, err = domain.ParseTokenPurpose(purpose); err != nil {
		return nil, err
	}
	return t, nil
}
