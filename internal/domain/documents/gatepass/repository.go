package gatepass

import (
	"context"

	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
)

// Repository defines operations for gate pass documents.
type Repository interface {
	Create(ctx context.Context, uow tx.UnitOfWork, doc *GatePass) error
	GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*GatePass, error)

	GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]Line, error)
	SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []Line) error

	// ListBySource returns passes created for a source document, oldest first.
	ListBySource(ctx context.Context, uow tx.UnitOfWork, sourceID id.ID) ([]*GatePass, error)
}
