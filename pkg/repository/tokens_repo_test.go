package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-accounts/pkg/domain"
)

var tokenRowColumns = []string{"id", "owner_id", "purpose", "value", "issued_at"}

func newToken(purpose domain.TokenPurpose, value string) *domain.Token {
	return &domain.Token{ID: uuid.New(), OwnerID: uuid.New(), Purpose: purpose, Value: value, IssuedAt: time.Now().UTC()}
}

func TestTokensRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	id, owner := uuid.New(), uuid.New()
	issued := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM tokens WHERE value = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).AddRow(id.String(), owner.String(), "auth", "tok", issued))

	tok, err := repo.Get(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.OwnerID != owner || tok.Purpose != domain.TokenPurposeAuth || !tok.IssuedAt.Equal(issued) {
		t.Errorf("unexpected token: %+v", tok)
	}
	expectMet(t, mock)
}

func TestTokensRepository_GetUnknownPurpose(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	mock.ExpectQuery(`FROM tokens WHERE value = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).AddRow(uuid.NewString(), uuid.NewString(), "session", "tok", time.Now()))

	_, err := repo.Get(context.Background(), "tok")
	if err == nil || errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected a decode error, got %v", err)
	}
	expectMet(t, mock)
}

func TestTokensRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	mock.ExpectQuery(`FROM tokens WHERE value = \$1`).WillReturnRows(sqlmock.NewRows(tokenRowColumns))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokensRepository_PutConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	mock.ExpectExec(`INSERT INTO tokens`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tokens_owner_purpose_key"})

	err := repo.Put(context.Background(), newToken(domain.TokenPurposeAuth, "tok"))
	if !errors.Is(err, domain.ErrTokenConflict) {
		t.Fatalf("expected ErrTokenConflict, got %v", err)
	}
}

func TestTokensRepository_DeleteNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	mock.ExpectExec(`DELETE FROM tokens WHERE value = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), newToken(domain.TokenPurposeConfirmation, "tok"))
	if !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokensRepository_Replace(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	prev := newToken(domain.TokenPurposePasswordReset, "old")
	next := newToken(domain.TokenPurposePasswordReset, "new")
	next.OwnerID = prev.OwnerID

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tokens WHERE value = \$1`).WithArgs("old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO tokens`).
		WithArgs(next.ID.String(), next.OwnerID.String(), "password_reset", "new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Replace(context.Background(), prev, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectMet(t, mock)
}

func TestTokensRepository_ReplaceLostRace(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	prev := newToken(domain.TokenPurposeAuth, "old")

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tokens WHERE value = \$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), prev, newToken(domain.TokenPurposeAuth, "new"))
	if !errors.Is(err, domain.ErrTokenConflict) {
		t.Fatalf("expected ErrTokenConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestTokensRepository_ReplaceWithoutPrevious(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Replace(context.Background(), nil, newToken(domain.TokenPurposeAuth, "new")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectMet(t, mock)
}

func TestTokensRepository_DeleteIssuedBefore(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTokensRepository(db)

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec(`DELETE FROM tokens WHERE purpose = \$1 AND issued_at < \$2`).
		WithArgs("password_reset", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteIssuedBefore(context.Background(), domain.TokenPurposePasswordReset, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	expectMet(t, mock)
}
