package memory

import (
	"context"
	"slices"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/registers/stock"
)

var _ stock.Repository = (*StockRepo)(nil)

// StockRepo implements stock.Repository on top of a Store.
type StockRepo struct {
	s *Store
}

// GetLevel implements stock.LevelRepository.
func (r *StockRepo) GetLevel(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) (*entity.InventoryLevel, error) {
	var (
		level entity.InventoryLevel
		ok    bool
	)
	r.s.read(func(d *state) { level, ok = d.levels[key] })
	if !ok {
		return nil, apperror.NewNotFound("inventory_level", key.String())
	}
	return &level, nil
}

// CreateLevelIfAbsent implements stock.LevelRepository.
func (r *StockRepo) CreateLevelIfAbsent(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, now time.Time) error {
	return r.s.write(uow, func(d *state) error {
		if _, ok := d.levels[key]; ok {
			return nil
		}
		d.levels[key] = entity.InventoryLevel{
			StockKey:  key,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	})
}

// UpdateLevelIfVersion implements stock.LevelRepository.
func (r *StockRepo) UpdateLevelIfVersion(ctx context.Context, uow tx.UnitOfWork, level *entity.InventoryLevel, expectedVersion int) (bool, error) {
	var updated bool
	err := r.s.write(uow, func(d *state) error {
		r.s.levelAttempts[level.StockKey]++

		stored, ok := d.levels[level.StockKey]
		if !ok {
			return nil
		}
		if r.s.levelConflicts[level.StockKey] > 0 {
			r.s.levelConflicts[level.StockKey]--
			stored.Version++
			d.levels[level.StockKey] = stored
		}
		if stored.Version != expectedVersion {
			return nil
		}

		level.Version = expectedVersion + 1
		d.levels[level.StockKey] = *level
		updated = true
		return nil
	})
	return updated, err
}

// ListLevels implements stock.LevelRepository.
func (r *StockRepo) ListLevels(ctx context.Context, uow tx.UnitOfWork, filter stock.LevelFilter) ([]entity.InventoryLevel, error) {
	var out []entity.InventoryLevel
	r.s.read(func(d *state) {
		for _, level := range d.levels {
			if matchLevel(level, filter) {
				out = append(out, level)
			}
		}
	})

	slices.SortFunc(out, func(a, b entity.InventoryLevel) int {
		if c := compareIDs(a.ItemID, b.ItemID); c != 0 {
			return c
		}
		return compareIDs(a.WarehouseID, b.WarehouseID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchLevel(level entity.InventoryLevel, f stock.LevelFilter) bool {
	if f.WarehouseID != nil && level.WarehouseID != *f.WarehouseID {
		return false
	}
	if len(f.ItemIDs) > 0 && !slices.Contains(f.ItemIDs, level.ItemID) {
		return false
	}
	if f.ExcludeZero && level.QtyOnHand == 0 && level.QtyReserved == 0 {
		return false
	}
	if f.AtOrBelowReorder {
		available := level.Available()
		low := (level.MinLevel != nil && available <= *level.MinLevel) ||
			(level.ReorderPoint != nil && available <= *level.ReorderPoint)
		if !low {
			return false
		}
	}
	return true
}

// CreateLot implements stock.LotRepository.
func (r *StockRepo) CreateLot(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot) error {
	return r.s.write(uow, func(d *state) error {
		if _, ok := d.lots[lot.ID]; ok {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "lot already exists").
				WithDetail("id", lot.ID.String())
		}
		d.lots[lot.ID] = *lot
		return nil
	})
}

// ListAvailableLots implements stock.LotRepository.
func (r *StockRepo) ListAvailableLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error) {
	return r.lots(key, func(l entity.InventoryLot) bool {
		return l.Status == entity.LotStatusActive && l.AvailableQty > 0
	}, 0), nil
}

// ListReservedLots implements stock.LotRepository.
func (r *StockRepo) ListReservedLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error) {
	return r.lots(key, func(l entity.InventoryLot) bool {
		return l.Status == entity.LotStatusActive && l.ReservedQty > 0
	}, 0), nil
}

// ListLots implements stock.LotRepository.
func (r *StockRepo) ListLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, filter stock.LotFilter) ([]entity.InventoryLot, error) {
	return r.lots(key, func(l entity.InventoryLot) bool {
		return len(filter.Statuses) == 0 || slices.Contains(filter.Statuses, l.Status)
	}, filter.Limit), nil
}

func (r *StockRepo) lots(key entity.StockKey, keep func(entity.InventoryLot) bool, limit int) []entity.InventoryLot {
	var out []entity.InventoryLot
	r.s.read(func(d *state) {
		for _, lot := range d.lots {
			if lot.StockKey == key && keep(lot) {
				out = append(out, lot)
			}
		}
	})

	slices.SortFunc(out, func(a, b entity.InventoryLot) int {
		if c := a.ReceiptDate.Compare(b.ReceiptDate); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateLotIfVersion implements stock.LotRepository.
func (r *StockRepo) UpdateLotIfVersion(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot, expectedVersion int) (bool, error) {
	var updated bool
	err := r.s.write(uow, func(d *state) error {
		stored, ok := d.lots[lot.ID]
		if !ok {
			return nil
		}
		if r.s.lotConflicts[lot.ID] > 0 {
			r.s.lotConflicts[lot.ID]--
			stored.Version++
			d.lots[lot.ID] = stored
		}
		if stored.Version != expectedVersion {
			return nil
		}

		lot.Version = expectedVersion + 1
		d.lots[lot.ID] = *lot
		updated = true
		return nil
	})
	return updated, err
}

// AppendConsumptions implements stock.ConsumptionRepository.
func (r *StockRepo) AppendConsumptions(ctx context.Context, uow tx.UnitOfWork, rows []entity.LotConsumption) error {
	return r.s.write(uow, func(d *state) error {
		d.consumptions = append(d.consumptions, rows...)
		return nil
	})
}

// ListConsumptions implements stock.ConsumptionRepository.
func (r *StockRepo) ListConsumptions(ctx context.Context, uow tx.UnitOfWork, ref entity.ConsumptionRef) ([]entity.LotConsumption, error) {
	var out []entity.LotConsumption
	r.s.read(func(d *state) {
		for _, row := range d.consumptions {
			if sameRef(row.ConsumptionRef, ref) {
				out = append(out, row)
			}
		}
	})
	return out, nil
}

func sameRef(a, b entity.ConsumptionRef) bool {
	return eqPtr(a.MirvLineID, b.MirvLineID) &&
		eqPtr(a.ReferenceType, b.ReferenceType) &&
		eqPtr(a.ReferenceID, b.ReferenceID)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func compareIDs(a, b id.ID) int {
	switch {
	case id.Less(a, b):
		return -1
	case id.Less(b, a):
		return 1
	default:
		return 0
	}
}
