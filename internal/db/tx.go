package db

import (
	"context"
	"database/sql"

	"github.com/phantompen/pen/internal/errors"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a unit of work. Whisper and user mutations require a Tx so that
// registered hooks run inside the same transaction as the originating write.
type Tx struct {
	*sql.Tx

	triggers    *Triggers
	afterCommit []func()
}

// AfterCommit registers fn to run once the transaction commits.
// It never runs if the transaction rolls back.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// RunInTx runs fn inside a transaction. triggers may be nil.
// fn's error is returned unchanged; commit failures become INTERNAL errors.
func RunInTx(ctx context.Context, database *sql.DB, triggers *Triggers, fn func(tx *Tx) error) error {
	sqlTx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	tx := &Tx{Tx: sqlTx, triggers: triggers}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.NewInternal(err)
	}

	for _, f := range tx.afterCommit {
		f()
	}
	return nil
}
