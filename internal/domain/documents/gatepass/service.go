package gatepass

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

const entityName = "gate_pass"

// Service provides business operations for gate passes.
type Service struct {
	repo      Repository
	numerator numerator.Generator
	txManager tx.Manager
	audit     audit.Writer
	clock     func() time.Time
}

// NewService creates a new gate pass service. auditWriter may be nil.
func NewService(repo Repository, gen numerator.Generator, txManager tx.Manager, auditWriter audit.Writer) *Service {
	return &Service{
		repo:      repo,
		numerator: gen,
		txManager: txManager,
		audit:     auditWriter,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for document dates and numbering.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// OutboundRequest describes the goods leaving with an outbound pass.
type OutboundRequest struct {
	SourceDocumentType string
	SourceDocumentID   id.ID
	WarehouseID        id.ID
	Destination        string
	CreatedBy          string
	Lines              []LineRequest
}

// LineRequest is one item leaving the gate.
type LineRequest struct {
	ItemID   id.ID
	Quantity types.Quantity
}

// CreateOutbound creates a pending outbound pass inside uow (or a fresh unit
// of work when uow is nil).
func (s *Service) CreateOutbound(ctx context.Context, uow tx.UnitOfWork, req OutboundRequest) (*GatePass, error) {
	now := s.clock()
	doc := NewOutbound(req.WarehouseID, req.Destination)
	doc.Date = now
	doc.SourceDocumentType = req.SourceDocumentType
	if !id.IsNil(req.SourceDocumentID) {
		src := req.SourceDocumentID
		doc.SourceDocumentID = &src
	}
	for _, line := range req.Lines {
		doc.AddLine(line.ItemID, line.Quantity)
	}
	doc.CreatedBy = req.CreatedBy
	doc.UpdatedBy = req.CreatedBy

	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}

	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig(NumeratorPrefix),
		&numerator.Options{Strategy: NumeratorStrategy}, now)
	if err != nil {
		return nil, fmt.Errorf("generate number: %w", err)
	}
	doc.Number = number

	err = tx.Within(ctx, s.txManager, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		if err := s.repo.Create(ctx, uow, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if err := s.repo.SaveLines(ctx, uow, doc.ID, doc.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
			EntityType: entityName,
			EntityID:   doc.ID.String(),
			Action:     audit.ActionCreate,
			UserID:     req.CreatedBy,
			Changes: map[string]any{
				"number":      doc.Number,
				"source_id":   req.SourceDocumentID.String(),
				"destination": doc.Destination,
				"lines":       len(doc.Lines),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "gate pass created", "id", doc.ID, "number", doc.Number, "source_id", req.SourceDocumentID)
	return doc, nil
}

// GetByID retrieves a gate pass with lines.
func (s *Service) GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*GatePass, error) {
	doc, err := s.repo.GetByID(ctx, uow, docID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetLines(ctx, uow, docID)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	doc.Lines = lines

	return doc, nil
}

// ListBySource returns the passes created for a source document.
func (s *Service) ListBySource(ctx context.Context, uow tx.UnitOfWork, sourceID id.ID) ([]*GatePass, error) {
	if id.IsNil(sourceID) {
		return nil, apperror.NewValidation("source document is required").WithDetail("field", "sourceDocumentId")
	}
	return s.repo.ListBySource(ctx, uow, sourceID)
}
