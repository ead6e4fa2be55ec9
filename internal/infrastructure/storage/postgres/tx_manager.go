package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/tx")

// Compile-time checks.
var (
	_ tx.Manager     = (*TxManager)(nil)
	_ tx.UnitOfWork  = (*Tx)(nil)
	_ tx.Isolator    = (*Tx)(nil)
	_ tx.CommitHooks = (*Tx)(nil)
)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration
}

// DefaultTxOptions returns production-safe defaults.
// Stock rows are guarded by version columns, so READ COMMITTED is enough.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager opens units of work on a connection pool with:
// - Statement timeout protection
// - Savepoint isolation for best-effort steps
// - Distributed tracing integration
type TxManager struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool) *TxManager {
	return &TxManager{pool: pool.Pool, opts: DefaultTxOptions()}
}

// NewTxManagerWithOptions creates a transaction manager with custom defaults.
func NewTxManagerWithOptions(pool *Pool, opts TxOptions) *TxManager {
	return &TxManager{pool: pool.Pool, opts: opts}
}

// Tx is the PostgreSQL unit of work.
type Tx struct {
	pgx.Tx
	tx.Hooks
	id         string
	savepoints int
}

// ID implements tx.UnitOfWork.
func (t *Tx) ID() string { return t.id }

// Isolate runs fn behind a savepoint: if fn fails only its own writes are
// rolled back and the transaction stays usable.
func (t *Tx) Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)
	mark := t.Mark()

	if _, err := t.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		t.Truncate(mark)
		if _, rbErr := t.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			logger.Error(ctx, "rollback to savepoint failed", "savepoint", name, "tx_id", t.id, "error", rbErr)
		}
		return err
	}

	if _, err := t.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// RunInTransaction implements tx.Manager with the manager defaults.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	return m.RunInTransactionWithOptions(ctx, m.opts, fn)
}

// RunInTransactionWithOptions executes fn with custom transaction options.
func (m *TxManager) RunInTransactionWithOptions(ctx context.Context, opts TxOptions, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	uowID := id.New().String()
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.id", uowID),
			attribute.String("tx.isolation", string(opts.IsolationLevel)),
		))
	defer span.End()

	pgTx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Set statement timeout for protection against runaway queries
	if opts.StatementTimeout > 0 {
		_, err = pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = pgTx.Rollback(ctx)
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	uow := &Tx{Tx: pgTx, id: uowID}
	if err := fn(ctx, uow); err != nil {
		// Use background context for rollback to ensure it completes
		// even if the original context was cancelled
		if rbErr := pgTx.Rollback(context.Background()); rbErr != nil {
			logger.Error(ctx, "rollback failed", "tx_id", uowID, "error", rbErr, "original_error", err)
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit transaction: %w", err)
	}
	uow.Run(ctx)
	return nil
}

// ReadOnly executes fn in a read-only transaction.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	opts := m.opts
	opts.AccessMode = pgx.ReadOnly
	return m.RunInTransactionWithOptions(ctx, opts, fn)
}

// Querier returns the transaction behind uow, or the pool for reads made
// without one. Writes must always carry a unit of work; see MustQuerier.
func (m *TxManager) Querier(uow tx.UnitOfWork) Querier {
	if t, ok := uow.(*Tx); ok && t != nil {
		return t.Tx
	}
	return m.pool
}

// MustQuerier returns the transaction behind uow, failing for a nil or
// foreign handle.
func (m *TxManager) MustQuerier(uow tx.UnitOfWork) (Querier, error) {
	t, ok := uow.(*Tx)
	if !ok || t == nil {
		return nil, fmt.Errorf("write requires a postgres unit of work, got %T", uow)
	}
	return t.Tx, nil
}

// Pool exposes the underlying pool to components that work outside units of
// work (numerator, outbox relay).
func (m *TxManager) Pool() *pgxpool.Pool {
	return m.pool
}
