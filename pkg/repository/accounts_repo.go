package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-accounts/pkg/domain"
)

const accountColumns = `id, email, first_name, last_name, password_hash, profile_picture,
		       is_active, is_staff, is_superuser, last_login, created_at, updated_at`

const emailIndex = "accounts_email_key"

// AccountsRepository handles account persistence.
type AccountsRepository struct {
	db *sql.DB
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{db: db}
}

// Create inserts a new account.
func (r *AccountsRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, first_name, last_name, password_hash, profile_picture,
		                      is_active, is_staff, is_superuser, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		a.ID, a.Email, a.FirstName, a.LastName, a.PasswordHash, a.ProfilePicture,
		a.IsActive, a.IsStaff, a.IsSuperuser, a.LastLogin, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err, emailIndex) {
		return domain.ErrEmailTaken
	}
	return err
}

// GetByID retrieves an account by ID.
func (r *AccountsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an account by email, ignoring case.
func (r *AccountsRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	return scanAccount(conn(ctx, r.db).QueryRowContext(ctx, query, email))
}

// ExistsByEmail checks if an account exists by email, ignoring case.
func (r *AccountsRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE lower(email) = lower($1))`
	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, err
}

// Update writes the editable profile fields of an account.
func (r *AccountsRepository) Update(ctx context.Context, a *domain.Account) error {
	query := `
		UPDATE accounts
		SET email = $2, first_name = $3, last_name = $4, profile_picture = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		a.ID, a.Email, a.FirstName, a.LastName, a.ProfilePicture, a.UpdatedAt,
	)
	if isUniqueViolation(err, emailIndex) {
		return domain.ErrEmailTaken
	}
	return affectedOne(result, err, domain.ErrAccountNotFound)
}

// UpdatePassword replaces an account's password hash.
func (r *AccountsRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, passwordHash)
	return affectedOne(result, err, domain.ErrAccountNotFound)
}

// SetActive sets the activation flag of an account.
func (r *AccountsRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, active)
	return affectedOne(result, err, domain.ErrAccountNotFound)
}

// UpdateLastLogin records the time of a successful login.
func (r *AccountsRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE accounts SET last_login = $2 WHERE id = $1`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, at)
	return affectedOne(result, err, domain.ErrAccountNotFound)
}

// Delete permanently deletes an account. Its tokens are removed by the
// foreign key cascade.
func (r *AccountsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return affectedOne(result, err, domain.ErrAccountNotFound)
}

// List returns a page of accounts ordered by creation time along with the
// total number of accounts.
func (r *AccountsRepository) List(ctx context.Context, page domain.Page) ([]*domain.Account, int, error) {
	q := conn(ctx, r.db)

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id LIMIT $1 OFFSET $2`
	rows, err := q.QueryContext(ctx, query, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, page.Limit)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*domain.Account, error) {
	a := &domain.Account{}
	var picture sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &picture,
		&a.IsActive, &a.IsStaff, &a.IsSuperuser, &lastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if picture.Valid {
		a.ProfilePicture = &picture.String
	}
	if lastLogin.Valid {
		a.LastLogin = &lastLogin.Time
	}
	return a, nil
}

// affectedOne maps a write that touched no rows to notFound.
func affectedOne(result sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
