package repository

import (
	"context"
	"database/sql"
)

// Querier is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Tx runs fn inside a transaction carried by the context passed to fn.
// Repository calls made with that context join the transaction. A nested
// call joins the outer transaction instead of opening a new one. The
// transaction commits when fn returns nil and rolls back on error or panic.
func Tx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// Transactor runs units of work in Postgres transactions.
type Transactor struct {
	db *sql.DB
}

// NewTransactor creates a new transactor.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn in a transaction. See Tx.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return Tx(ctx, t.db, fn)
}
