package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/occ"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

// DefaultLevelAttempts bounds the version-guarded level update.
const DefaultLevelAttempts = 3

// LotNumeratorStrategy is used for lot numbers: they must be unique, gaps are fine.
const LotNumeratorStrategy = numerator.StrategyCached

const (
	levelEntity = "inventory_level"
	lotEntity   = "inventory_lot"
)

// ServiceConfig configures the stock ledger service.
type ServiceConfig struct {
	TxManager tx.Manager
	Repo      Repository
	Numerator numerator.Generator

	// Optional collaborators
	Alerts AlertSink
	Cache  CacheInvalidator
	Audit  audit.Writer

	// LevelAttempts overrides DefaultLevelAttempts
	LevelAttempts int
	// Clock overrides time.Now (tests)
	Clock func() time.Time
}

// Service is the lot allocation engine.
type Service struct {
	txm       tx.Manager
	repo      Repository
	numerator numerator.Generator
	alerts    AlertSink
	cache     CacheInvalidator
	audit     audit.Writer

	levelAttempts int
	clock         func() time.Time
}

// NewService creates a new stock ledger service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		txm:           cfg.TxManager,
		repo:          cfg.Repo,
		numerator:     cfg.Numerator,
		alerts:        cfg.Alerts,
		cache:         cfg.Cache,
		audit:         cfg.Audit,
		levelAttempts: cfg.LevelAttempts,
		clock:         cfg.Clock,
	}
	if s.levelAttempts <= 0 {
		s.levelAttempts = DefaultLevelAttempts
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) now() time.Time { return s.clock() }

// Key builds the level key for an item in a warehouse.
func Key(itemID, warehouseID id.ID) entity.StockKey {
	return entity.StockKey{ItemID: itemID, WarehouseID: warehouseID}
}

// StockLevel is the read model returned by GetStockLevel.
type StockLevel struct {
	OnHand    types.Quantity `json:"onHand"`
	Reserved  types.Quantity `json:"reserved"`
	Available types.Quantity `json:"available"`
}

// AddStockRequest describes one receipt.
type AddStockRequest struct {
	ItemID      id.ID
	WarehouseID id.ID
	Quantity    types.Quantity

	UnitCost    *types.Money
	SupplierID  *id.ID
	LineRef     *string
	ExpiryDate  *time.Time
	PerformedBy string
	// LotStatus defaults to active; blocked lots are received but never allocated
	LotStatus entity.LotStatus
}

func (r AddStockRequest) validate() error {
	if id.IsNil(r.ItemID) {
		return apperror.NewValidation("item is required").WithDetail("field", "itemId")
	}
	if id.IsNil(r.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if !r.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	switch r.LotStatus {
	case "", entity.LotStatusActive, entity.LotStatusBlocked:
	default:
		return apperror.NewValidation(fmt.Sprintf("lot cannot be received as %s", r.LotStatus)).
			WithDetail("field", "lotStatus")
	}
	return nil
}

// AddStock records a receipt: the level's on-hand grows by the quantity and
// exactly one new lot is created for it. The low-stock latch is reset.
func (s *Service) AddStock(ctx context.Context, uow tx.UnitOfWork, req AddStockRequest) (*entity.InventoryLot, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	lotNumber, err := s.nextLotNumber(ctx)
	if err != nil {
		return nil, err
	}

	var lot *entity.InventoryLot
	err = tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		lot, err = s.addStock(ctx, uow, req, lotNumber)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock received",
		"item_id", req.ItemID,
		"warehouse_id", req.WarehouseID,
		"quantity", req.Quantity,
		"lot_number", lot.LotNumber,
	)
	return lot, nil
}

func (s *Service) addStock(ctx context.Context, uow tx.UnitOfWork, req AddStockRequest, lotNumber string) (*entity.InventoryLot, error) {
	key := Key(req.ItemID, req.WarehouseID)
	now := s.now()

	if err := s.repo.CreateLevelIfAbsent(ctx, uow, key, now); err != nil {
		return nil, fmt.Errorf("ensure level %s: %w", key, err)
	}

	_, err := s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
		level.QtyOnHand += req.Quantity
		level.AlertSent = false
		level.LastMovementDate = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	status := req.LotStatus
	if status == "" {
		status = entity.LotStatusActive
	}

	lot := &entity.InventoryLot{
		ID:            id.New(),
		LotNumber:     lotNumber,
		StockKey:      key,
		ReceiptDate:   now,
		ExpiryDate:    req.ExpiryDate,
		InitialQty:    req.Quantity,
		AvailableQty:  req.Quantity,
		UnitCost:      req.UnitCost,
		SupplierID:    req.SupplierID,
		SourceLineRef: req.LineRef,
		Status:        status,
		Version:       1,
		CreatedBy:     req.PerformedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateLot(ctx, uow, lot); err != nil {
		return nil, fmt.Errorf("create lot: %w", err)
	}

	s.invalidate(ctx, uow, key)
	audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
		EntityType: lotEntity,
		EntityID:   lot.ID.String(),
		Action:     audit.ActionAddStock,
		UserID:     req.PerformedBy,
		Changes: map[string]any{
			"item_id":      key.ItemID.String(),
			"warehouse_id": key.WarehouseID.String(),
			"quantity":     req.Quantity.String(),
			"lot_number":   lot.LotNumber,
			"status":       string(status),
		},
	})
	return lot, nil
}

// GetStockLevel returns on-hand, reserved and available for a pair.
// A pair that never received stock reports zeros.
func (s *Service) GetStockLevel(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID) (StockLevel, error) {
	level, err := s.repo.GetLevel(ctx, uow, Key(itemID, warehouseID))
	if err != nil {
		if apperror.IsNotFound(err) {
			return StockLevel{}, nil
		}
		return StockLevel{}, err
	}
	return StockLevel{
		OnHand:    level.QtyOnHand,
		Reserved:  level.QtyReserved,
		Available: level.Available(),
	}, nil
}

// ListLevels returns levels matching filter.
func (s *Service) ListLevels(ctx context.Context, uow tx.UnitOfWork, filter LevelFilter) ([]entity.InventoryLevel, error) {
	return s.repo.ListLevels(ctx, uow, filter)
}

// ListLots returns the lots of a pair, oldest receipt first.
func (s *Service) ListLots(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, filter LotFilter) ([]entity.InventoryLot, error) {
	return s.repo.ListLots(ctx, uow, Key(itemID, warehouseID), filter)
}

// ConsumptionsByReference returns the costing trail recorded against ref.
func (s *Service) ConsumptionsByReference(ctx context.Context, uow tx.UnitOfWork, ref entity.ConsumptionRef) ([]entity.LotConsumption, error) {
	return s.repo.ListConsumptions(ctx, uow, ref)
}

// SetThresholds changes the low-stock thresholds of an existing level and
// re-arms the alert latch so the new thresholds are evaluated at once.
func (s *Service) SetThresholds(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, minLevel, reorderPoint *types.Quantity) error {
	if minLevel != nil && minLevel.IsNegative() || reorderPoint != nil && reorderPoint.IsNegative() {
		return apperror.NewValidation("thresholds must not be negative")
	}
	key := Key(itemID, warehouseID)

	return tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		_, err := s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
			level.MinLevel = minLevel
			level.ReorderPoint = reorderPoint
			level.AlertSent = false
			return nil
		})
		if err != nil {
			return err
		}
		s.checkLowStock(ctx, uow, key)
		return nil
	})
}

// updateLevelWithVersion applies mutate to a fresh copy of the level and
// writes it conditioned on the version that was read. Lost races are retried
// up to levelAttempts times with a fresh read; then ConcurrencyConflict.
//
// mutate may return an error to abandon the write; that error is returned as is.
func (s *Service) updateLevelWithVersion(
	ctx context.Context,
	uow tx.UnitOfWork,
	key entity.StockKey,
	mutate func(level *entity.InventoryLevel) error,
) (*entity.InventoryLevel, error) {
	var written *entity.InventoryLevel

	err := occ.Retry(ctx, occ.Options{
		MaxAttempts: s.levelAttempts,
		OnStale: func(ctx context.Context, attempt int) {
			trace.SpanFromContext(ctx).AddEvent("inventory_level.stale",
				trace.WithAttributes(attribute.Int("attempt", attempt)))
			logger.Debug(ctx, "inventory level version moved, retrying", "key", key.String(), "attempt", attempt)
		},
	},
		func(ctx context.Context) (*entity.InventoryLevel, error) {
			return s.repo.GetLevel(ctx, uow, key)
		},
		func(ctx context.Context, current *entity.InventoryLevel) error {
			next := *current
			if err := mutate(&next); err != nil {
				return err
			}
			next.UpdatedAt = s.now()

			ok, err := s.repo.UpdateLevelIfVersion(ctx, uow, &next, current.Version)
			if err != nil {
				return fmt.Errorf("update level %s: %w", key, err)
			}
			if !ok {
				return occ.ErrStale
			}
			written = &next
			return nil
		})

	if errors.Is(err, occ.ErrExhausted) {
		logger.Warn(ctx, "inventory level update gave up", "key", key.String(), "attempts", s.levelAttempts)
		return nil, apperror.NewConcurrencyConflict(levelEntity, key.String(), s.levelAttempts).WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	return written, nil
}

// updateLotWithVersion writes lot conditioned on expectedVersion without any
// retry: the caller's allocation plan was derived from that exact version.
func (s *Service) updateLotWithVersion(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot, expectedVersion int) error {
	lot.UpdatedAt = s.now()
	ok, err := s.repo.UpdateLotIfVersion(ctx, uow, lot, expectedVersion)
	if err != nil {
		return fmt.Errorf("update lot %s: %w", lot.ID, err)
	}
	if !ok {
		return apperror.NewConcurrentModification(lotEntity, lot.ID.String()).
			WithDetail("lot_number", lot.LotNumber).
			WithDetail("expected_version", expectedVersion)
	}
	return nil
}

func (s *Service) nextLotNumber(ctx context.Context) (string, error) {
	if s.numerator == nil {
		return "", apperror.NewInternal(errors.New("lot numerator is not configured"))
	}
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("LOT"),
		&numerator.Options{Strategy: LotNumeratorStrategy}, s.now())
	if err != nil {
		return "", fmt.Errorf("generate lot number: %w", err)
	}
	return number, nil
}

// invalidate signals downstream caches. Failures are logged, never returned.
func (s *Service) invalidate(ctx context.Context, uow tx.UnitOfWork, keys ...entity.StockKey) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	err := tx.Isolated(ctx, uow, func(ctx context.Context) error {
		return s.cache.Invalidate(ctx, uow, keys...)
	})
	if err != nil {
		logger.Warn(ctx, "stock cache invalidation failed", "keys", len(keys), "error", err)
	}
}
