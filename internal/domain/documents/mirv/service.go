package mirv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/registers/stock"
	"stockledger/pkg/logger"
)

const entityName = "mirv"

// StockLedger is the part of the stock ledger vouchers drive.
type StockLedger interface {
	ReserveBatch(ctx context.Context, uow tx.UnitOfWork, items []stock.BatchItem) (stock.ReserveBatchResult, error)
	ConsumeBatch(ctx context.Context, uow tx.UnitOfWork, items []stock.BatchItem) (stock.ConsumeBatchResult, error)
	Release(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity) error
}

// GatePassIssuer creates the outbound pass of a first issuance.
type GatePassIssuer interface {
	CreateOutbound(ctx context.Context, uow tx.UnitOfWork, req gatepass.OutboundRequest) (*gatepass.GatePass, error)
}

var (
	_ StockLedger    = (*stock.Service)(nil)
	_ GatePassIssuer = (*gatepass.Service)(nil)
)

// ServiceConfig configures the voucher service.
type ServiceConfig struct {
	Repo       Repository
	Stock      StockLedger
	GatePasses GatePassIssuer
	Numerator  numerator.Generator
	TxManager  tx.Manager
	Audit      audit.Writer

	// DefaultDestination overrides the gate pass destination placeholder
	DefaultDestination string
	Clock              func() time.Time
}

// Service provides business operations for material issue vouchers.
type Service struct {
	repo        Repository
	stock       StockLedger
	gatePasses  GatePassIssuer
	numerator   numerator.Generator
	txManager   tx.Manager
	audit       audit.Writer
	destination string
	clock       func() time.Time
}

// NewService creates a new voucher service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:        cfg.Repo,
		stock:       cfg.Stock,
		gatePasses:  cfg.GatePasses,
		numerator:   cfg.Numerator,
		txManager:   cfg.TxManager,
		audit:       cfg.Audit,
		destination: cfg.DefaultDestination,
		clock:       cfg.Clock,
	}
	if s.destination == "" {
		s.destination = DefaultDestination
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Create stores a new draft voucher.
func (s *Service) Create(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error {
	if err := doc.Validate(ctx); err != nil {
		return err
	}
	doc.Status = StatusDraft
	doc.ReservationStatus = ReservationNone
	audit.EnrichCreatedBy(ctx, doc)

	if doc.Number == "" {
		number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig(NumeratorPrefix),
			&numerator.Options{Strategy: NumeratorStrategy}, s.clock())
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		doc.Number = number
	}

	err := tx.Within(ctx, s.txManager, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		if err := s.repo.Create(ctx, uow, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if err := s.repo.SaveLines(ctx, uow, doc.ID, doc.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		s.record(ctx, uow, doc, audit.ActionCreate, map[string]any{"number": doc.Number, "lines": len(doc.Lines)})
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "mirv created", "id", doc.ID, "number", doc.Number)
	return nil
}

// GetByID retrieves a voucher with lines.
func (s *Service) GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*MIRV, error) {
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

// List retrieves vouchers with filtering.
func (s *Service) List(ctx context.Context, uow tx.UnitOfWork, filter ListFilter) (domain.ListResult[*MIRV], error) {
	return s.repo.List(ctx, uow, filter)
}

// Submit sends a draft for approval.
func (s *Service) Submit(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*MIRV, error) {
	return s.transition(ctx, uow, docID, audit.ActionUpdate, func(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error {
		if err := doc.CanSubmit(); err != nil {
			return err
		}
		doc.Status = StatusPendingApproval
		return nil
	})
}

// Approve approves a pending voucher and reserves every line. Approved
// quantities may lower the requested ones per line. Approval is all or
// nothing: if any line cannot be reserved nothing is reserved.
func (s *Service) Approve(ctx context.Context, uow tx.UnitOfWork, docID id.ID, approverID string, approved map[id.ID]types.Quantity) (*MIRV, error) {
	return s.transition(ctx, uow, docID, audit.ActionUpdate, func(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error {
		if err := doc.CanApprove(); err != nil {
			return err
		}

		for lineID, qty := range approved {
			line, ok := doc.Line(lineID)
			if !ok {
				return apperror.NewValidation("unknown line").WithDetail("lineId", lineID.String())
			}
			if qty.IsNegative() || qty > line.QtyRequested {
				return apperror.NewValidation("approved quantity must be between zero and the requested quantity").
					WithDetail("lineNo", line.LineNo)
			}
			q := qty
			line.QtyApproved = &q
		}

		items := make([]stock.BatchItem, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			if target := line.Target(); target.IsPositive() {
				items = append(items, stock.BatchItem{ItemID: line.ItemID, WarehouseID: doc.WarehouseID, Quantity: target})
			}
		}
		if len(items) == 0 {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "MIRV has nothing to approve")
		}

		result, err := s.stock.ReserveBatch(ctx, uow, items)
		if err != nil {
			return err
		}
		if !result.Success {
			failed := make([]string, 0, len(result.FailedItems))
			for _, item := range result.FailedItems {
				failed = append(failed, item.ItemID.String())
			}
			return apperror.NewBusinessRule(apperror.CodeInsufficientStock,
				fmt.Sprintf("insufficient stock to reserve %d line(s)", len(failed))).
				WithDetail("failed_items", failed)
		}

		now := s.clock()
		doc.Status = StatusApproved
		doc.ReservationStatus = ReservationReserved
		doc.ApprovedBy = &approverID
		doc.ApprovedAt = &now
		return nil
	})
}

// SignQC records the QC counter-signature on an approved voucher.
func (s *Service) SignQC(ctx context.Context, uow tx.UnitOfWork, docID id.ID, qcUserID string) (*MIRV, error) {
	if qcUserID == "" {
		return nil, apperror.NewValidation("QC user is required").WithDetail("field", "qcUserId")
	}
	return s.transition(ctx, uow, docID, audit.ActionUpdate, func(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error {
		if err := doc.CanSignQC(); err != nil {
			return err
		}
		now := s.clock()
		doc.QCSignatureID = &qcUserID
		doc.QCSignedAt = &now
		return nil
	})
}

// PartialItem asks to issue Quantity of one line.
type PartialItem struct {
	LineID   id.ID          `json:"lineId"`
	Quantity types.Quantity `json:"quantity"`
}

// IssuedLine reports what one line issued.
type IssuedLine struct {
	LineID   id.ID          `json:"lineId"`
	Quantity types.Quantity `json:"quantity"`
	Cost     types.Money    `json:"cost"`
}

// IssueResult is the outcome of an issuance.
type IssueResult struct {
	Document  *MIRV              `json:"document"`
	Lines     []IssuedLine       `json:"lines"`
	TotalCost types.Money        `json:"totalCost"`
	GatePass  *gatepass.GatePass `json:"gatePass,omitempty"`
}

// Issue consumes the reserved stock of the voucher.
//
// Without partial items every line with something remaining is issued in
// full. With partial items only the named lines are issued, each capped at
// its remaining quantity. The first issuance creates the outbound gate pass.
func (s *Service) Issue(ctx context.Context, uow tx.UnitOfWork, docID id.ID, userID string, partial []PartialItem) (*IssueResult, error) {
	for _, item := range partial {
		if !item.Quantity.IsPositive() {
			return nil, apperror.NewValidation("issue quantity must be positive").
				WithDetail("lineId", item.LineID.String()).
				WithDetail("quantity", item.Quantity.String())
		}
	}

	var result *IssueResult
	err := tx.Within(ctx, s.txManager, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		doc, err := s.GetByID(ctx, uow, docID)
		if err != nil {
			return err
		}
		if err := doc.CanIssue(); err != nil {
			return err
		}

		plan := issuancePlan(doc, partial)
		if len(plan) == 0 {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "No items remaining to issue")
		}

		items := make([]stock.BatchItem, 0, len(plan))
		for _, p := range plan {
			line, _ := doc.Line(p.LineID)
			items = append(items, stock.BatchItem{
				ItemID:      line.ItemID,
				WarehouseID: doc.WarehouseID,
				Quantity:    p.Quantity,
				Ref:         entity.RefForMirvLine(line.LineID),
			})
		}

		consumed, err := s.stock.ConsumeBatch(ctx, uow, items)
		if err != nil {
			return err
		}

		result = &IssueResult{Document: doc, TotalCost: consumed.TotalCost}
		for i, p := range plan {
			cost := consumed.Items[i].TotalCost
			line, _ := doc.Line(p.LineID)
			line.QtyIssued += p.Quantity
			unitCost := types.UnitCost(cost, p.Quantity)
			line.UnitCost = &unitCost
			result.Lines = append(result.Lines, IssuedLine{LineID: p.LineID, Quantity: p.Quantity, Cost: cost})
		}

		now := s.clock()
		doc.IssuedBy = &userID
		doc.IssuedAt = &now
		if doc.IsComplete() {
			doc.Status = StatusIssued
			doc.ReservationStatus = ReservationReleased
		} else {
			doc.Status = StatusPartiallyIssued
		}

		if !doc.GatePassAutoCreated {
			pass, err := s.createGatePass(ctx, uow, doc, items, userID)
			if err != nil {
				return err
			}
			doc.GatePassAutoCreated = true
			result.GatePass = pass
		}

		doc.UpdatedBy = userID
		if err := s.repo.Update(ctx, uow, doc); err != nil {
			return err
		}
		if err := s.repo.SaveLines(ctx, uow, doc.ID, doc.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}
		s.record(ctx, uow, doc, audit.ActionIssue, map[string]any{
			"status":     string(doc.Status),
			"lines":      len(result.Lines),
			"total_cost": result.TotalCost.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "mirv issued",
		"id", result.Document.ID,
		"number", result.Document.Number,
		"status", string(result.Document.Status),
		"total_cost", result.TotalCost.String(),
	)
	return result, nil
}

// issuancePlan picks the lines and quantities of one issuance.
func issuancePlan(doc *MIRV, partial []PartialItem) []PartialItem {
	var plan []PartialItem
	if len(partial) == 0 {
		for _, line := range doc.Lines {
			if remaining := line.Remaining(); remaining.IsPositive() {
				plan = append(plan, PartialItem{LineID: line.LineID, Quantity: remaining})
			}
		}
		return plan
	}

	picked := make(map[id.ID]int, len(partial))
	for _, item := range partial {
		line, ok := doc.Line(item.LineID)
		if !ok {
			continue
		}
		qty := types.MinQuantity(item.Quantity, line.Remaining())
		if idx, seen := picked[item.LineID]; seen {
			// repeated line: the request accumulates, still capped
			qty = types.MinQuantity(plan[idx].Quantity+item.Quantity, line.Remaining())
			plan[idx].Quantity = qty
			continue
		}
		if !qty.IsPositive() {
			continue
		}
		picked[item.LineID] = len(plan)
		plan = append(plan, PartialItem{LineID: item.LineID, Quantity: qty})
	}
	return plan
}

func (s *Service) createGatePass(ctx context.Context, uow tx.UnitOfWork, doc *MIRV, items []stock.BatchItem, userID string) (*gatepass.GatePass, error) {
	if s.gatePasses == nil {
		return nil, apperror.NewInternal(errors.New("gate pass service is not configured"))
	}

	destination := s.destination
	if doc.LocationOfWork != nil && *doc.LocationOfWork != "" {
		destination = *doc.LocationOfWork
	}

	lines := make([]gatepass.LineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, gatepass.LineRequest{ItemID: item.ItemID, Quantity: item.Quantity})
	}

	pass, err := s.gatePasses.CreateOutbound(ctx, uow, gatepass.OutboundRequest{
		SourceDocumentType: DocumentType,
		SourceDocumentID:   doc.ID,
		WarehouseID:        doc.WarehouseID,
		Destination:        destination,
		CreatedBy:          userID,
		Lines:              lines,
	})
	if err != nil {
		return nil, fmt.Errorf("create gate pass: %w", err)
	}
	return pass, nil
}

// CancelResult is the outcome of a cancellation.
type CancelResult struct {
	Document *MIRV `json:"document"`
	// WasReserved reports whether stock was handed back
	WasReserved bool `json:"wasReserved"`
}

// Cancel cancels an open voucher, returning any stock still reserved for it.
func (s *Service) Cancel(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*CancelResult, error) {
	result := &CancelResult{}
	doc, err := s.transition(ctx, uow, docID, audit.ActionCancel, func(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error {
		if err := doc.CanCancel(); err != nil {
			return err
		}

		if doc.ReservationStatus == ReservationReserved {
			for _, line := range doc.Lines {
				outstanding := line.Remaining()
				if !outstanding.IsPositive() {
					continue
				}
				if err := s.stock.Release(ctx, uow, line.ItemID, doc.WarehouseID, outstanding); err != nil {
					return fmt.Errorf("release line %d: %w", line.LineNo, err)
				}
			}
			result.WasReserved = true
		}

		doc.Status = StatusCancelled
		doc.ReservationStatus = ReservationReleased
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Document = doc
	return result, nil
}

// transition loads the voucher inside a unit of work, lets apply change it
// and saves it with the version guard.
func (s *Service) transition(
	ctx context.Context,
	uow tx.UnitOfWork,
	docID id.ID,
	action audit.Action,
	apply func(ctx context.Context, uow tx.UnitOfWork, doc *MIRV) error,
) (*MIRV, error) {
	var doc *MIRV
	err := tx.Within(ctx, s.txManager, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		doc, err = s.GetByID(ctx, uow, docID)
		if err != nil {
			return err
		}
		from := doc.Status

		if err := apply(ctx, uow, doc); err != nil {
			return err
		}

		audit.EnrichUpdatedBy(ctx, doc)
		if err := s.repo.Update(ctx, uow, doc); err != nil {
			return err
		}
		if err := s.repo.SaveLines(ctx, uow, doc.ID, doc.Lines); err != nil {
			return fmt.Errorf("save lines: %w", err)
		}

		logger.Info(ctx, "mirv status changed",
			"id", doc.ID,
			"number", doc.Number,
			"from", string(from),
			"to", string(doc.Status),
		)
		s.record(ctx, uow, doc, action, map[string]any{"status": string(doc.Status)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// record audits doc once the unit of work commits.
func (s *Service) record(ctx context.Context, uow tx.UnitOfWork, doc *MIRV, action audit.Action, changes map[string]any) {
	audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
		EntityType: entityName,
		EntityID:   doc.ID.String(),
		Action:     action,
		UserID:     doc.UpdatedBy,
		Changes:    changes,
	})
}
