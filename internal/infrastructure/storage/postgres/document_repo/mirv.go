package document_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain"
	"stockledger/internal/domain/documents/mirv"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	mirvTable      = "doc_mirv"
	mirvLinesTable = "doc_mirv_lines"
)

var (
	mirvColumns     = postgres.ExtractDBColumns[mirv.MIRV]()
	mirvLineColumns = postgres.ExtractDBColumns[mirv.Line]()
)

// MIRVRepo implements mirv.Repository.
type MIRVRepo struct {
	*BaseDocumentRepo[*mirv.MIRV]
}

var _ mirv.Repository = (*MIRVRepo)(nil)

// NewMIRVRepo creates a new material issue voucher repository.
func NewMIRVRepo(txm *postgres.TxManager) *MIRVRepo {
	return &MIRVRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txm,
			"mirv",
			mirvTable,
			mirvColumns,
			func() *mirv.MIRV { return &mirv.MIRV{} },
		),
	}
}

// GetLines retrieves the requested materials.
func (r *MIRVRepo) GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]mirv.Line, error) {
	return selectLines[mirv.Line](ctx, r.txm.Querier(uow), r.Builder(), mirvLinesTable, mirvLineColumns, docID)
}

// SaveLines replaces all lines of the voucher.
func (r *MIRVRepo) SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []mirv.Line) error {
	return r.replaceLines(ctx, uow, mirvLinesTable, docID, r.linesInsert(docID, lines))
}

func (r *MIRVRepo) linesInsert(docID id.ID, lines []mirv.Line) *squirrel.InsertBuilder {
	if len(lines) == 0 {
		return nil
	}

	q := r.Builder().Insert(mirvLinesTable).
		Columns(append([]string{"document_id"}, mirvLineColumns...)...)
	for _, line := range lines {
		q = q.Values(
			docID,
			line.LineID,
			line.LineNo,
			line.ItemID,
			line.QtyRequested,
			line.QtyApproved,
			line.QtyIssued,
			line.UnitCost,
		)
	}
	return &q
}

func (r *MIRVRepo) listQuery(filter mirv.ListFilter) squirrel.SelectBuilder {
	q := r.baseSelect()

	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(squirrel.Eq{"status": filter.Statuses})
	}
	if filter.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"date": *filter.DateFrom})
	}
	if filter.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"date": *filter.DateTo})
	}
	return q
}

// List retrieves voucher headers with filtering.
func (r *MIRVRepo) List(ctx context.Context, uow tx.UnitOfWork, filter mirv.ListFilter) (domain.ListResult[*mirv.MIRV], error) {
	return r.page(ctx, uow, r.listQuery(filter), filter.ListFilter)
}
