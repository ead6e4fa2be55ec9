package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/registers/stock"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunInTransaction_RollbackRestoresState(t *testing.T) {
	s := New()
	repo := s.Stock()
	ctx := context.Background()
	key := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		require.NoError(t, repo.CreateLevelIfAbsent(ctx, uow, key, now))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetLevel(ctx, nil, key)
	assert.True(t, apperror.IsNotFound(err))

	commits, rollbacks := s.Stats()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestIsolate_UndoesOnlyTheFailedStep(t *testing.T) {
	s := New()
	repo := s.Stock()
	ctx := context.Background()
	kept := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}
	undone := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}

	err := s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		require.NoError(t, repo.CreateLevelIfAbsent(ctx, uow, kept, now))

		isoErr := tx.Isolated(ctx, uow, func(ctx context.Context) error {
			require.NoError(t, repo.CreateLevelIfAbsent(ctx, uow, undone, now))
			return errors.New("side step failed")
		})
		assert.Error(t, isoErr)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetLevel(ctx, nil, kept)
	assert.NoError(t, err)
	_, err = repo.GetLevel(ctx, nil, undone)
	assert.True(t, apperror.IsNotFound(err))
}

func TestAfterCommit_RunsOnlyForCommittedWork(t *testing.T) {
	s := New()
	ctx := context.Background()
	var ran []string

	err := s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		tx.AfterCommit(ctx, uow, func(ctx context.Context) { ran = append(ran, "outer") })
		_ = tx.Isolated(ctx, uow, func(ctx context.Context) error {
			tx.AfterCommit(ctx, uow, func(ctx context.Context) { ran = append(ran, "failed step") })
			return errors.New("side step failed")
		})
		assert.Empty(t, ran)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, ran)

	err = s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		tx.AfterCommit(ctx, uow, func(ctx context.Context) { ran = append(ran, "rolled back") })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, []string{"outer"}, ran)
}

func TestWriteOutsideUnitOfWork(t *testing.T) {
	s := New()
	err := s.Stock().CreateLevelIfAbsent(context.Background(), nil, entity.StockKey{}, now)
	assert.Error(t, err)
}

func TestUpdateLevelIfVersion(t *testing.T) {
	s := New()
	repo := s.Stock()
	ctx := context.Background()
	key := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}
	s.SeedLevel(entity.InventoryLevel{StockKey: key, QtyOnHand: types.NewQuantity(5), Version: 4})

	err := s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		level, err := repo.GetLevel(ctx, uow, key)
		require.NoError(t, err)

		level.QtyOnHand = types.NewQuantity(7)
		ok, err := repo.UpdateLevelIfVersion(ctx, uow, level, 3)
		require.NoError(t, err)
		assert.False(t, ok, "stale version must not match")

		ok, err = repo.UpdateLevelIfVersion(ctx, uow, level, 4)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 5, level.Version)
		return nil
	})
	require.NoError(t, err)

	stored, err := repo.GetLevel(ctx, nil, key)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(7), stored.QtyOnHand)
	assert.Equal(t, 5, stored.Version)
	assert.Equal(t, 2, s.LevelWriteAttempts(key))
}

func TestInjectLevelConflicts(t *testing.T) {
	s := New()
	repo := s.Stock()
	ctx := context.Background()
	key := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}
	s.SeedLevel(entity.InventoryLevel{StockKey: key, Version: 1})
	s.InjectLevelConflicts(key, 1)

	_ = s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		level, _ := repo.GetLevel(ctx, uow, key)
		ok, err := repo.UpdateLevelIfVersion(ctx, uow, level, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		level, _ = repo.GetLevel(ctx, uow, key)
		assert.Equal(t, 2, level.Version)
		ok, err = repo.UpdateLevelIfVersion(ctx, uow, level, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
}

func TestListAvailableLots_FIFOOrder(t *testing.T) {
	s := New()
	repo := s.Stock()
	key := entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}

	newer := entity.InventoryLot{ID: id.New(), StockKey: key, ReceiptDate: now, AvailableQty: types.NewQuantity(1), Status: entity.LotStatusActive}
	older := entity.InventoryLot{ID: id.New(), StockKey: key, ReceiptDate: now.Add(-time.Hour), AvailableQty: types.NewQuantity(1), Status: entity.LotStatusActive}
	blocked := entity.InventoryLot{ID: id.New(), StockKey: key, ReceiptDate: now.Add(-2 * time.Hour), AvailableQty: types.NewQuantity(1), Status: entity.LotStatusBlocked}
	empty := entity.InventoryLot{ID: id.New(), StockKey: key, ReceiptDate: now.Add(-3 * time.Hour), Status: entity.LotStatusActive}
	other := entity.InventoryLot{ID: id.New(), StockKey: entity.StockKey{ItemID: id.New(), WarehouseID: key.WarehouseID}, ReceiptDate: now, AvailableQty: types.NewQuantity(1), Status: entity.LotStatusActive}
	for _, lot := range []entity.InventoryLot{newer, older, blocked, empty, other} {
		s.SeedLot(lot)
	}

	lots, err := repo.ListAvailableLots(context.Background(), nil, key)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, older.ID, lots[0].ID)
	assert.Equal(t, newer.ID, lots[1].ID)

	all, err := repo.ListLots(context.Background(), nil, key, stock.LotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	onlyBlocked, err := repo.ListLots(context.Background(), nil, key, stock.LotFilter{Statuses: []entity.LotStatus{entity.LotStatusBlocked}})
	require.NoError(t, err)
	require.Len(t, onlyBlocked, 1)
	assert.Equal(t, blocked.ID, onlyBlocked[0].ID)
}

func TestListLevels_Filters(t *testing.T) {
	s := New()
	wh := id.New()
	minLevel := types.NewQuantity(5)

	low := entity.InventoryLevel{StockKey: entity.StockKey{ItemID: id.New(), WarehouseID: wh}, QtyOnHand: types.NewQuantity(4), MinLevel: &minLevel}
	fine := entity.InventoryLevel{StockKey: entity.StockKey{ItemID: id.New(), WarehouseID: wh}, QtyOnHand: types.NewQuantity(40), MinLevel: &minLevel}
	zero := entity.InventoryLevel{StockKey: entity.StockKey{ItemID: id.New(), WarehouseID: wh}}
	elsewhere := entity.InventoryLevel{StockKey: entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}, QtyOnHand: types.NewQuantity(1)}
	for _, l := range []entity.InventoryLevel{low, fine, zero, elsewhere} {
		s.SeedLevel(l)
	}

	levels, err := s.Stock().ListLevels(context.Background(), nil, stock.LevelFilter{WarehouseID: &wh, ExcludeZero: true})
	require.NoError(t, err)
	assert.Len(t, levels, 2)

	levels, err = s.Stock().ListLevels(context.Background(), nil, stock.LevelFilter{AtOrBelowReorder: true})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, low.StockKey, levels[0].StockKey)
}

func TestListConsumptions_ByReference(t *testing.T) {
	s := New()
	repo := s.Stock()
	ctx := context.Background()
	line := id.New()

	err := s.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		return repo.AppendConsumptions(ctx, uow, []entity.LotConsumption{
			{ID: id.New(), LotID: id.New(), ConsumptionRef: entity.RefForMirvLine(line), Quantity: types.NewQuantity(1)},
			{ID: id.New(), LotID: id.New(), ConsumptionRef: entity.RefFor("adjustment", "A-1"), Quantity: types.NewQuantity(2)},
			{ID: id.New(), LotID: id.New(), ConsumptionRef: entity.RefForMirvLine(line), Quantity: types.NewQuantity(3)},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListConsumptions(ctx, nil, entity.RefForMirvLine(line))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, types.NewQuantity(1), rows[0].Quantity)
	assert.Equal(t, types.NewQuantity(3), rows[1].Quantity)

	rows, err = repo.ListConsumptions(ctx, nil, entity.RefFor("adjustment", "A-1"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
