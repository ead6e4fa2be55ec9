// Package stock provides the inventory ledger: per (item, warehouse) levels,
// the receipt lots behind them, FIFO allocation and the consumption log.
package stock

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
)

// LevelRepository stores inventory levels.
// Every method takes the unit of work it must run in; nil means "outside any
// transaction" and is only valid for reads.
type LevelRepository interface {
	// GetLevel returns the level or an apperror NotFound.
	GetLevel(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) (*entity.InventoryLevel, error)

	// CreateLevelIfAbsent inserts a zero level (version 1) unless one exists.
	CreateLevelIfAbsent(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, now time.Time) error

	// UpdateLevelIfVersion writes level only if the stored version still equals
	// expectedVersion, bumping it by one. Returns false when no row matched.
	// On success level.Version holds the new version.
	UpdateLevelIfVersion(ctx context.Context, uow tx.UnitOfWork, level *entity.InventoryLevel, expectedVersion int) (bool, error)

	// ListLevels returns levels matching filter, ordered by item then warehouse.
	ListLevels(ctx context.Context, uow tx.UnitOfWork, filter LevelFilter) ([]entity.InventoryLevel, error)
}

// LotRepository stores inventory lots.
type LotRepository interface {
	CreateLot(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot) error

	// ListAvailableLots returns active lots with available quantity left,
	// oldest receipt first (ties broken by id).
	ListAvailableLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error)

	// ListReservedLots returns active lots holding reservations, oldest receipt first.
	ListReservedLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error)

	// ListLots returns lots of a pair regardless of status, oldest receipt first.
	ListLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, filter LotFilter) ([]entity.InventoryLot, error)

	// UpdateLotIfVersion is the lot counterpart of UpdateLevelIfVersion.
	UpdateLotIfVersion(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot, expectedVersion int) (bool, error)
}

// ConsumptionRepository stores the append-only consumption log.
type ConsumptionRepository interface {
	AppendConsumptions(ctx context.Context, uow tx.UnitOfWork, rows []entity.LotConsumption) error

	// ListConsumptions returns slices recorded against ref, oldest first.
	ListConsumptions(ctx context.Context, uow tx.UnitOfWork, ref entity.ConsumptionRef) ([]entity.LotConsumption, error)
}

// Repository groups the ledger stores. One implementation usually backs all three.
type Repository interface {
	LevelRepository
	LotRepository
	ConsumptionRepository
}

// LevelFilter for filtering level queries.
type LevelFilter struct {
	WarehouseID *id.ID
	ItemIDs     []id.ID
	ExcludeZero bool
	// AtOrBelowReorder keeps levels whose available quantity is at or below
	// their reorder point or minimum level.
	AtOrBelowReorder bool
	Limit            int
}

// LotFilter for filtering lot listings.
type LotFilter struct {
	Statuses []entity.LotStatus
	Limit    int
}
