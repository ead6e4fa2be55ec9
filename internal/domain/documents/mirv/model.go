// Package mirv provides the Material Issue Request Voucher: a request to
// draw material from a warehouse that is approved (reserving stock), counter
// signed by QC and then issued in one or more instalments.
package mirv

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Status is the lifecycle state of a voucher.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusPartiallyIssued Status = "partially_issued"
	StatusIssued          Status = "issued"
	StatusCancelled       Status = "cancelled"
)

// ReservationStatus tracks the stock hold placed at approval.
type ReservationStatus string

const (
	ReservationNone     ReservationStatus = "none"
	ReservationReserved ReservationStatus = "reserved"
	ReservationReleased ReservationStatus = "released"
)

// MIRV represents a material issue request voucher.
type MIRV struct {
	entity.Document

	Status            Status            `db:"status" json:"status"`
	ReservationStatus ReservationStatus `db:"reservation_status" json:"reservationStatus"`

	// Where the material is used; becomes the gate pass destination
	LocationOfWork *string `db:"location_of_work" json:"locationOfWork,omitempty"`

	RequestedBy string     `db:"requested_by" json:"requestedBy,omitempty"`
	ApprovedBy  *string    `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`

	// QC counter-signature, required before any issuance
	QCSignatureID *string    `db:"qc_signature_id" json:"qcSignatureId,omitempty"`
	QCSignedAt    *time.Time `db:"qc_signed_at" json:"qcSignedAt,omitempty"`

	IssuedBy *string    `db:"issued_by" json:"issuedBy,omitempty"`
	IssuedAt *time.Time `db:"issued_at" json:"issuedAt,omitempty"`

	// GatePassAutoCreated is set by the first issuance
	GatePassAutoCreated bool `db:"gate_pass_auto_created" json:"gatePassAutoCreated"`

	// Table part: requested materials
	Lines []Line `db:"-" json:"lines"`
}

// Line represents a requested material.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID       id.ID           `db:"item_id" json:"itemId"`
	QtyRequested types.Quantity  `db:"qty_requested" json:"qtyRequested"`
	QtyApproved  *types.Quantity `db:"qty_approved" json:"qtyApproved,omitempty"`
	QtyIssued    types.Quantity  `db:"qty_issued" json:"qtyIssued"`

	// UnitCost is the FIFO cost of the latest issuance of this line
	UnitCost *types.Money `db:"unit_cost" json:"unitCost,omitempty"`
}

// Target is the quantity the line should finally issue.
func (l *Line) Target() types.Quantity {
	if l.QtyApproved != nil {
		return *l.QtyApproved
	}
	return l.QtyRequested
}

// Remaining is what is left to issue.
func (l *Line) Remaining() types.Quantity {
	return (l.Target() - l.QtyIssued).FloorZero()
}

// NewMIRV creates a draft voucher.
func NewMIRV(warehouseID id.ID, requestedBy string) *MIRV {
	return &MIRV{
		Document:          entity.NewDocument(warehouseID),
		Status:            StatusDraft,
		ReservationStatus: ReservationNone,
		RequestedBy:       requestedBy,
		Lines:             make([]Line, 0),
	}
}

// AddLine adds a requested material.
func (m *MIRV) AddLine(itemID id.ID, quantity types.Quantity) {
	m.Lines = append(m.Lines, Line{
		LineID:       id.New(),
		LineNo:       len(m.Lines) + 1,
		ItemID:       itemID,
		QtyRequested: quantity,
	})
}

// Line returns the line with lineID.
func (m *MIRV) Line(lineID id.ID) (*Line, bool) {
	for i := range m.Lines {
		if m.Lines[i].LineID == lineID {
			return &m.Lines[i], true
		}
	}
	return nil, false
}

// IsComplete reports whether every line issued its target.
func (m *MIRV) IsComplete() bool {
	for i := range m.Lines {
		if m.Lines[i].QtyIssued != m.Lines[i].Target() {
			return false
		}
	}
	return true
}

// Validate implements entity.Validatable.
func (m *MIRV) Validate(ctx context.Context) error {
	if err := m.Document.Validate(ctx); err != nil {
		return err
	}

	if len(m.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, line := range m.Lines {
		if id.IsNil(line.ItemID) {
			return apperror.NewValidation("item is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.QtyRequested <= 0 {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}

	return nil
}

// --- State machine guards ---

// CanModify checks if the voucher can still be edited.
func (m *MIRV) CanModify() error {
	if m.Status != StatusDraft {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("MIRV cannot be modified in status: %s", m.Status))
	}
	return nil
}

// CanSubmit checks draft -> pending_approval.
func (m *MIRV) CanSubmit() error {
	if m.Status != StatusDraft {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("MIRV cannot be submitted from status: %s", m.Status))
	}
	return nil
}

// CanApprove checks pending_approval -> approved.
func (m *MIRV) CanApprove() error {
	if m.Status != StatusPendingApproval {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("MIRV cannot be approved from status: %s", m.Status))
	}
	return nil
}

// CanSignQC checks that QC may counter-sign.
func (m *MIRV) CanSignQC() error {
	if m.Status != StatusApproved {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule, "MIRV must be approved for QC signature")
	}
	return nil
}

// CanIssue checks the issuance preconditions.
func (m *MIRV) CanIssue() error {
	if m.Status != StatusApproved && m.Status != StatusPartiallyIssued {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule, "MIRV must be approved or partially issued")
	}
	if m.QCSignatureID == nil {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule, "QC counter-signature is required before issuing materials")
	}
	return nil
}

// CanCancel checks that the voucher is still open.
func (m *MIRV) CanCancel() error {
	switch m.Status {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusPartiallyIssued:
		return nil
	default:
		return apperror.NewBusinessRule(apperror.CodeBusinessRule,
			fmt.Sprintf("MIRV cannot be cancelled from status: %s", m.Status))
	}
}
