// Package gatepass provides the GatePass document: the paper that lets
// issued material leave (or enter) the warehouse gate.
package gatepass

import (
	"context"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Type is the direction of a gate pass.
type Type string

const (
	TypeOutbound Type = "outbound"
	TypeInbound  Type = "inbound"
)

// Status of a gate pass at the gate.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCleared   Status = "cleared"
	StatusCancelled Status = "cancelled"
)

// GatePass represents a gate pass document.
type GatePass struct {
	entity.Document

	Type   Type   `db:"pass_type" json:"type"`
	Status Status `db:"status" json:"status"`

	// Source document that caused the pass (e.g. a material issue voucher)
	SourceDocumentType string `db:"source_document_type" json:"sourceDocumentType,omitempty"`
	SourceDocumentID   *id.ID `db:"source_document_id" json:"sourceDocumentId,omitempty"`

	Destination string `db:"destination" json:"destination"`

	// Table part: goods passing the gate
	Lines []Line `db:"-" json:"lines"`
}

// Line is one item on the pass.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID   id.ID          `db:"item_id" json:"itemId"`
	Quantity types.Quantity `db:"quantity" json:"quantity"`
}

// NewOutbound creates a pending outbound gate pass.
func NewOutbound(warehouseID id.ID, destination string) *GatePass {
	return &GatePass{
		Document:    entity.NewDocument(warehouseID),
		Type:        TypeOutbound,
		Status:      StatusPending,
		Destination: destination,
		Lines:       make([]Line, 0),
	}
}

// AddLine appends an item to the pass.
func (g *GatePass) AddLine(itemID id.ID, quantity types.Quantity) {
	g.Lines = append(g.Lines, Line{
		LineID:   id.New(),
		LineNo:   len(g.Lines) + 1,
		ItemID:   itemID,
		Quantity: quantity,
	})
}

// Validate implements entity.Validatable.
func (g *GatePass) Validate(ctx context.Context) error {
	if err := g.Document.Validate(ctx); err != nil {
		return err
	}

	if g.Destination == "" {
		return apperror.NewValidation("destination is required").
			WithDetail("field", "destination")
	}

	if len(g.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, line := range g.Lines {
		if id.IsNil(line.ItemID) {
			return apperror.NewValidation("item is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.Quantity <= 0 {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}

	return nil
}
