package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockledger/internal/core/tx"
)

func pgTx(uow tx.UnitOfWork, op string) (*Tx, error) {
	t, ok := uow.(*Tx)
	if !ok || t == nil {
		return nil, fmt.Errorf("%s requires a postgres unit of work, got %T", op, uow)
	}
	return t, nil
}

// BatchInserter provides bulk insert operations using the COPY protocol.
// The consumption log of a large issuance is written this way.
type BatchInserter struct{}

// NewBatchInserter creates a new batch inserter.
func NewBatchInserter() *BatchInserter {
	return &BatchInserter{}
}

// CopyFromSlice performs bulk insert from a slice of rows inside uow.
// Each row holds values matching columns.
func (b *BatchInserter) CopyFromSlice(ctx context.Context, uow tx.UnitOfWork, table string, columns []string, rows [][]any) (int64, error) {
	t, err := pgTx(uow, "CopyFromSlice")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return t.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// BatchExecutor sends several statements in one round-trip.
type BatchExecutor struct{}

// NewBatchExecutor creates a new batch executor.
func NewBatchExecutor() *BatchExecutor {
	return &BatchExecutor{}
}

// BatchQuery represents a query in a batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// ExecuteBatch executes multiple queries in a single round-trip inside uow.
func (e *BatchExecutor) ExecuteBatch(ctx context.Context, uow tx.UnitOfWork, queries []BatchQuery) error {
	t, err := pgTx(uow, "ExecuteBatch")
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.SQL, q.Args...)
	}

	results := t.SendBatch(ctx, batch)
	defer results.Close()

	for i := range queries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch query %d failed: %w", i, err)
		}
	}
	return nil
}
