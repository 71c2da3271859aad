package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryer is implemented by pgx.Tx and *pgxpool.Pool.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Pool is what the Store needs from a connection pool.
type Pool interface {
	Queryer
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ErrWriteInSnapshot is returned when a ledger write is attempted inside a
// read-only snapshot.
var ErrWriteInSnapshot = errors.New("postgres: ledger write inside a read-only snapshot")

var (
	// A balance and its changes are read by separate statements; repeatable
	// read makes them see the same ledger.
	snapshotOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	writeOptions    = pgx.TxOptions{AccessMode: pgx.ReadWrite}
)

type ledgerTxKey struct{}

// ledgerTx is the transaction carried in a context.
type ledgerTx struct {
	tx       pgx.Tx
	readOnly bool
}

// TransactionManager opens ledger transactions on a pool and carries them
// in the context so nested calls join the outer transaction.
type TransactionManager struct {
	pool Pool
}

// NewTransactionManager returns nil for a nil pool; a nil manager runs
// functions directly on the pool.
func NewTransactionManager(pool Pool) *TransactionManager {
	if pool == nil {
		return nil
	}
	return &TransactionManager{pool: pool}
}

// Snapshot runs fn on a read-only repeatable-read transaction. Every read in
// fn sees the ledger as of the first statement.
func (m *TransactionManager) Snapshot(ctx context.Context, fn func(context.Context) error) error {
	return m.run(ctx, snapshotOptions, fn)
}

// Write runs fn on a read-write transaction.
func (m *TransactionManager) Write(ctx context.Context, fn func(context.Context) error) error {
	return m.run(ctx, writeOptions, fn)
}

func (m *TransactionManager) run(ctx context.Context, opts pgx.TxOptions, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is required")
	}
	readOnly := opts.AccessMode == pgx.ReadOnly
	if outer, ok := ctx.Value(ledgerTxKey{}).(*ledgerTx); ok {
		if outer.readOnly && !readOnly {
			return ErrWriteInSnapshot
		}
		return fn(ctx)
	}
	if m == nil {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, ledgerTxKey{}, &ledgerTx{tx: tx, readOnly: readOnly})); err != nil {
		return rollback(ctx, tx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rollback(ctx, tx, fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}

// rollback aborts tx and joins a rollback failure onto cause.
func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Join(cause, fmt.Errorf("postgres: rollback: %w", err))
	}
	return cause
}

// QueryerFromContext returns the context's ledger transaction, or fallback.
func QueryerFromContext(ctx context.Context, fallback Queryer) Queryer {
	if lt, ok := ctx.Value(ledgerTxKey{}).(*ledgerTx); ok {
		return lt.tx
	}
	return fallback
}
