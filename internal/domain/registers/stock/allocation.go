package stock

import (
	"context"
	"errors"
	"fmt"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

// errNotAvailable abandons a level write whose availability re-check failed.
var errNotAvailable = errors.New("stock no longer available")

// slice is one step of an allocation plan: take qty from lot.
type slice struct {
	lot entity.InventoryLot
	qty types.Quantity
}

// planReservation walks lots oldest first, taking what is still reservable
// from each. covered is false when the lots cannot supply qty.
func planReservation(lots []entity.InventoryLot, qty types.Quantity) (plan []slice, covered bool) {
	remaining := qty
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		take := types.MinQuantity(remaining, lot.Reservable())
		if take <= 0 {
			continue
		}
		plan = append(plan, slice{lot: lot, qty: take})
		remaining -= take
	}
	return plan, remaining <= 0
}

// planConsumption walks lots oldest first, taking available quantity
// regardless of who reserved it.
func planConsumption(lots []entity.InventoryLot, qty types.Quantity) (plan []slice, covered bool) {
	remaining := qty
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		take := types.MinQuantity(remaining, lot.AvailableQty)
		if take <= 0 {
			continue
		}
		plan = append(plan, slice{lot: lot, qty: take})
		remaining -= take
	}
	return plan, remaining <= 0
}

func lotShortfall(key entity.StockKey, op string, qty types.Quantity) error {
	return apperror.NewDataIntegrity(fmt.Sprintf("lots of %s cannot cover %s of %s", key, op, qty)).
		WithDetail("item_id", key.ItemID.String()).
		WithDetail("warehouse_id", key.WarehouseID.String()).
		WithDetail("quantity", qty.String())
}

func insufficient(key entity.StockKey, requested, available types.Quantity) error {
	return apperror.NewInsufficientStock(key.ItemID.String(), key.WarehouseID.String(), requested.String(), available.String())
}

// Reserve places a soft hold of qty on the pair. It returns false, without
// mutating anything, when not enough stock is available.
func (s *Service) Reserve(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity) (bool, error) {
	if !qty.IsPositive() {
		return false, apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}

	var reserved bool
	err := tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		reserved, err = s.reserve(ctx, uow, Key(itemID, warehouseID), qty)
		return err
	})
	return reserved, err
}

func (s *Service) reserve(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity) (bool, error) {
	level, err := s.repo.GetLevel(ctx, uow, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if level.Available() < qty {
		return false, nil
	}

	lots, err := s.repo.ListAvailableLots(ctx, uow, key)
	if err != nil {
		return false, fmt.Errorf("list lots %s: %w", key, err)
	}
	plan, covered := planReservation(lots, qty)
	if !covered {
		return false, lotShortfall(key, "reservation", qty)
	}

	_, err = s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
		if level.Available() < qty {
			return errNotAvailable
		}
		level.QtyReserved += qty
		return nil
	})
	if errors.Is(err, errNotAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, step := range plan {
		lot := step.lot
		lot.ReservedQty += step.qty
		if err := s.updateLotWithVersion(ctx, uow, &lot, step.lot.Version); err != nil {
			return false, err
		}
	}

	s.invalidate(ctx, uow, key)
	audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
		EntityType: levelEntity,
		EntityID:   key.String(),
		Action:     audit.ActionReserve,
		Changes:    map[string]any{"quantity": qty.String(), "lots": len(plan)},
	})
	return true, nil
}

// Release returns qty of reserved stock to availability, oldest lots first.
func (s *Service) Release(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity) error {
	if !qty.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	return tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		return s.release(ctx, uow, Key(itemID, warehouseID), qty)
	})
}

func (s *Service) release(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity) error {
	_, err := s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
		level.QtyReserved = (level.QtyReserved - qty).FloorZero()
		return nil
	})
	if err != nil {
		return err
	}

	lots, err := s.repo.ListReservedLots(ctx, uow, key)
	if err != nil {
		return fmt.Errorf("list reserved lots %s: %w", key, err)
	}

	remaining := qty
	for _, current := range lots {
		if remaining <= 0 {
			break
		}
		take := types.MinQuantity(remaining, current.ReservedQty)
		lot := current
		lot.ReservedQty -= take
		if err := s.updateLotWithVersion(ctx, uow, &lot, current.Version); err != nil {
			return err
		}
		remaining -= take
	}

	if remaining > 0 {
		logger.Warn(ctx, "released more than lots held in reservation",
			"key", key.String(),
			"requested", qty,
			"unmatched", remaining,
		)
	}

	s.invalidate(ctx, uow, key)
	audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
		EntityType: levelEntity,
		EntityID:   key.String(),
		Action:     audit.ActionRelease,
		Changes:    map[string]any{"quantity": qty.String()},
	})
	return nil
}

// Consume physically removes previously reserved stock: on-hand and reserved
// drop together and each lot slice is logged with its cost.
// Returns the FIFO cost of the consumed quantity.
func (s *Service) Consume(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity, ref entity.ConsumptionRef) (types.Money, error) {
	return s.withdraw(ctx, uow, Key(itemID, warehouseID), qty, ref, true)
}

// Deduct removes stock that was never reserved. It fails with
// InsufficientStock before touching anything when on-hand is short.
func (s *Service) Deduct(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity, ref entity.ConsumptionRef) (types.Money, error) {
	return s.withdraw(ctx, uow, Key(itemID, warehouseID), qty, ref, false)
}

func (s *Service) withdraw(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity, ref entity.ConsumptionRef, reserved bool) (types.Money, error) {
	if !qty.IsPositive() {
		return types.Zero(), apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}

	var cost types.Money
	err := tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		cost, err = s.consume(ctx, uow, key, qty, ref, reserved)
		if err != nil {
			return err
		}
		s.checkLowStock(ctx, uow, key)
		return nil
	})
	if err != nil {
		return types.Zero(), err
	}
	return cost, nil
}

// consume is the shared lot walk of Consume (reserved=true) and Deduct.
func (s *Service) consume(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity, ref entity.ConsumptionRef, reserved bool) (types.Money, error) {
	level, err := s.repo.GetLevel(ctx, uow, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return types.Zero(), insufficient(key, qty, 0)
		}
		return types.Zero(), err
	}
	if level.QtyOnHand < qty {
		return types.Zero(), insufficient(key, qty, level.QtyOnHand)
	}

	lots, err := s.repo.ListAvailableLots(ctx, uow, key)
	if err != nil {
		return types.Zero(), fmt.Errorf("list lots %s: %w", key, err)
	}
	plan, covered := planConsumption(lots, qty)
	if !covered {
		return types.Zero(), lotShortfall(key, "consumption", qty)
	}

	now := s.now()
	var onHand types.Quantity
	_, err = s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
		if level.QtyOnHand < qty {
			onHand = level.QtyOnHand
			return errNotAvailable
		}
		level.QtyOnHand -= qty
		if reserved {
			level.QtyReserved = (level.QtyReserved - qty).FloorZero()
		}
		level.LastMovementDate = &now
		return nil
	})
	if errors.Is(err, errNotAvailable) {
		return types.Zero(), insufficient(key, qty, onHand)
	}
	if err != nil {
		return types.Zero(), err
	}

	total := types.Zero()
	rows := make([]entity.LotConsumption, 0, len(plan))
	for _, step := range plan {
		lot := step.lot
		lot.AvailableQty -= step.qty
		lot.ReservedQty = (lot.ReservedQty - step.qty).FloorZero()
		if lot.AvailableQty == 0 {
			lot.Status = entity.LotStatusDepleted
		}
		if err := s.updateLotWithVersion(ctx, uow, &lot, step.lot.Version); err != nil {
			return types.Zero(), err
		}

		rows = append(rows, entity.LotConsumption{
			ID:              id.New(),
			LotID:           lot.ID,
			ConsumptionRef:  ref,
			Quantity:        step.qty,
			UnitCost:        lot.UnitCost,
			ConsumptionDate: now,
		})
		total = total.Add(step.qty.Cost(lot.UnitCost))
	}

	if err := s.repo.AppendConsumptions(ctx, uow, rows); err != nil {
		return types.Zero(), fmt.Errorf("append consumptions: %w", err)
	}

	action := audit.ActionDeduct
	if reserved {
		action = audit.ActionConsume
	}
	s.invalidate(ctx, uow, key)
	audit.RecordOnCommit(ctx, uow, s.audit, audit.Entry{
		EntityType: levelEntity,
		EntityID:   key.String(),
		Action:     action,
		Changes: map[string]any{
			"quantity":   qty.String(),
			"total_cost": total.String(),
			"slices":     len(rows),
		},
	})
	return total, nil
}
