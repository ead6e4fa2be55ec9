package mirv

import (
	"context"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain"
)

// Repository defines operations for material issue vouchers.
type Repository interface {
	Create(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error
	GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*MIRV, error)

	// Update writes the header if the stored version still equals doc.Version
	// and bumps it; a lost race is a CONCURRENT_MODIFICATION error.
	Update(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error

	GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []Line) error

	List(ctx context.Context, uow tx.UnitOfWork, filter ListFilter) (domain.ListResult[*MIRV], error)
}

// ListFilter for filtering vouchers.
type ListFilter struct {
	domain.ListFilter

	WarehouseID *id.ID
	Statuses    []Status
	DateFrom    *time.Time
	DateTo      *time.Time
}
