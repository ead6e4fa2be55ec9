// Package entity provides core domain entities.
package entity

import (
	"fmt"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// StockKey identifies an inventory level: one item in one warehouse.
type StockKey struct {
	ItemID      id.ID `db:"item_id" json:"itemId"`
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
}

// String renders the key for logs and error details.
func (k StockKey) String() string {
	return fmt.Sprintf("%s@%s", k.ItemID, k.WarehouseID)
}

// InventoryLevel is the per (item, warehouse) stock aggregate.
// It is created on the first receipt, never deleted, and only ever written
// through a version-guarded update.
type InventoryLevel struct {
	StockKey

	QtyOnHand   types.Quantity `db:"qty_on_hand" json:"qtyOnHand"`
	QtyReserved types.Quantity `db:"qty_reserved" json:"qtyReserved"`

	// Version is incremented by every successful write
	Version int `db:"version" json:"version"`

	// Thresholds for the low-stock monitor (nullable)
	MinLevel     *types.Quantity `db:"min_level" json:"minLevel,omitempty"`
	ReorderPoint *types.Quantity `db:"reorder_point" json:"reorderPoint,omitempty"`

	// AlertSent latches after one alert per breach; receipts reset it
	AlertSent bool `db:"alert_sent" json:"alertSent"`

	LastMovementDate *time.Time `db:"last_movement_date" json:"lastMovementDate,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// Available is the quantity that can still be reserved.
func (l *InventoryLevel) Available() types.Quantity {
	return l.QtyOnHand - l.QtyReserved
}

// LotStatus is the lifecycle state of an inventory lot.
type LotStatus string

const (
	// LotStatusActive lots are eligible for FIFO allocation
	LotStatusActive LotStatus = "active"
	// LotStatusBlocked lots are held (quarantine, QC) and never allocated
	LotStatusBlocked LotStatus = "blocked"
	// LotStatusDepleted is terminal: available quantity reached zero
	LotStatusDepleted LotStatus = "depleted"
)

// InventoryLot is one receipt of stock with its own cost.
// Lots are consumed oldest receipt first.
type InventoryLot struct {
	ID        id.ID  `db:"id" json:"id"`
	LotNumber string `db:"lot_number" json:"lotNumber"`

	StockKey

	ReceiptDate time.Time  `db:"receipt_date" json:"receiptDate"`
	ExpiryDate  *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`

	InitialQty   types.Quantity `db:"initial_qty" json:"initialQty"`
	AvailableQty types.Quantity `db:"available_qty" json:"availableQty"`
	ReservedQty  types.Quantity `db:"reserved_qty" json:"reservedQty"`

	UnitCost      *types.Money `db:"unit_cost" json:"unitCost,omitempty"`
	SupplierID    *id.ID       `db:"supplier_id" json:"supplierId,omitempty"`
	SourceLineRef *string      `db:"source_line_ref" json:"sourceLineRef,omitempty"`

	Status  LotStatus `db:"status" json:"status"`
	Version int       `db:"version" json:"version"`

	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Reservable is the part of the lot not yet promised to anyone.
func (l *InventoryLot) Reservable() types.Quantity {
	return l.AvailableQty - l.ReservedQty
}

// ConsumptionRef links a consumption slice to what caused it: either a
// material issue voucher line, or a free-form reference.
type ConsumptionRef struct {
	MirvLineID    *id.ID  `db:"mirv_line_id" json:"mirvLineId,omitempty"`
	ReferenceType *string `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *string `db:"reference_id" json:"referenceId,omitempty"`
}

// RefForMirvLine builds a reference to a voucher line.
func RefForMirvLine(lineID id.ID) ConsumptionRef {
	return ConsumptionRef{MirvLineID: &lineID}
}

// RefFor builds a free-form reference.
func RefFor(referenceType, referenceID string) ConsumptionRef {
	return ConsumptionRef{ReferenceType: &referenceType, ReferenceID: &referenceID}
}

// LotConsumption is one immutable slice taken from one lot.
// Together they form the costing audit trail.
type LotConsumption struct {
	ID    id.ID `db:"id" json:"id"`
	LotID id.ID `db:"lot_id" json:"lotId"`

	ConsumptionRef

	Quantity        types.Quantity `db:"quantity" json:"quantity"`
	UnitCost        *types.Money   `db:"unit_cost" json:"unitCost,omitempty"`
	ConsumptionDate time.Time      `db:"consumption_date" json:"consumptionDate"`
}
