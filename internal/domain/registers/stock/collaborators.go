package stock

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
)

// Severity of a low-stock alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// LowStockAlert is emitted once per depletion episode of a level.
type LowStockAlert struct {
	entity.StockKey

	Severity     Severity        `json:"severity"`
	OnHand       types.Quantity  `json:"onHand"`
	Reserved     types.Quantity  `json:"reserved"`
	Available    types.Quantity  `json:"available"`
	MinLevel     *types.Quantity `json:"minLevel,omitempty"`
	ReorderPoint *types.Quantity `json:"reorderPoint,omitempty"`
	DetectedAt   time.Time       `json:"detectedAt"`
}

// AlertSink delivers low-stock alerts. Implementations that write inside
// uow (the transactional outbox) only deliver when the scope commits.
type AlertSink interface {
	Emit(ctx context.Context, uow tx.UnitOfWork, alert LowStockAlert) error
}

// CacheInvalidator tells downstream read models that levels changed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, uow tx.UnitOfWork, keys ...entity.StockKey) error
}
