package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var (
	// ReadCommitted suits single-row writes guarded by ON CONFLICT, which
	// then wait for a competing insert instead of failing to serialize.
	ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	// RepeatableRead gives multi-statement reads one snapshot.
	RepeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
)

// WithTx runs fn inside a transaction opened with opts. The transaction is
// committed when fn returns nil and rolled back otherwise, even if ctx has
// been cancelled in the meantime.
func WithTx(ctx context.Context, beginner Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := beginner.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	committed = true
	return nil
}
