package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	gatePassTable      = "doc_gate_passes"
	gatePassLinesTable = "doc_gate_pass_lines"
)

var (
	gatePassColumns     = postgres.ExtractDBColumns[gatepass.GatePass]()
	gatePassLineColumns = postgres.ExtractDBColumns[gatepass.Line]()
)

// GatePassRepo implements gatepass.Repository.
type GatePassRepo struct {
	*BaseDocumentRepo[*gatepass.GatePass]
}

var _ gatepass.Repository = (*GatePassRepo)(nil)

// NewGatePassRepo creates a new gate pass repository.
func NewGatePassRepo(txm *postgres.TxManager) *GatePassRepo {
	return &GatePassRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txm,
			"gate_pass",
			gatePassTable,
			gatePassColumns,
			func() *gatepass.GatePass { return &gatepass.GatePass{} },
		),
	}
}

// GetLines retrieves the items on the pass.
func (r *GatePassRepo) GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]gatepass.Line, error) {
	return selectLines[gatepass.Line](ctx, r.txm.Querier(uow), r.Builder(), gatePassLinesTable, gatePassLineColumns, docID)
}

// SaveLines replaces all lines of the pass.
func (r *GatePassRepo) SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []gatepass.Line) error {
	var insert *squirrel.InsertBuilder
	if len(lines) > 0 {
		q := r.Builder().Insert(gatePassLinesTable).
			Columns(append([]string{"document_id"}, gatePassLineColumns...)...)
		for _, line := range lines {
			q = q.Values(docID, line.LineID, line.LineNo, line.ItemID, line.Quantity)
		}
		insert = &q
	}
	return r.replaceLines(ctx, uow, gatePassLinesTable, docID, insert)
}

func (r *GatePassRepo) bySourceQuery(sourceID id.ID) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Eq{"source_document_id": sourceID}).
		OrderBy("created_at", "id")
}

// ListBySource returns pass headers created for a source document.
func (r *GatePassRepo) ListBySource(ctx context.Context, uow tx.UnitOfWork, sourceID id.ID) ([]*gatepass.GatePass, error) {
	sql, args, err := r.bySourceQuery(sourceID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var passes []*gatepass.GatePass
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &passes, sql, args...); err != nil {
		return nil, fmt.Errorf("list gate passes by source: %w", err)
	}
	return passes, nil
}
