// Package register_repo provides PostgreSQL implementations for register repositories.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/registers/stock"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	levelsTable       = "inventory_levels"
	lotsTable         = "inventory_lots"
	consumptionsTable = "lot_consumptions"
)

var (
	levelColumns       = postgres.ExtractDBColumns[entity.InventoryLevel]()
	lotColumns         = postgres.ExtractDBColumns[entity.InventoryLot]()
	consumptionColumns = postgres.ExtractDBColumns[entity.LotConsumption]()
)

// StockRepo implements stock.Repository.
//
// Levels and lots are never locked: every write is a conditional UPDATE on
// the version column and a miss is reported back to the ledger, which owns
// the retry policy.
type StockRepo struct {
	txm      *postgres.TxManager
	builder  squirrel.StatementBuilderType
	inserter *postgres.BatchInserter
}

// Ensure interface compliance.
var _ stock.Repository = (*StockRepo)(nil)

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:      txm,
		builder:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		inserter: postgres.NewBatchInserter(),
	}
}

// --- levels ---

func (r *StockRepo) levelSelect(key entity.StockKey) squirrel.SelectBuilder {
	return r.builder.Select(levelColumns...).
		From(levelsTable).
		Where(squirrel.Eq{"item_id": key.ItemID, "warehouse_id": key.WarehouseID})
}

// GetLevel implements stock.LevelRepository.
func (r *StockRepo) GetLevel(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) (*entity.InventoryLevel, error) {
	sql, args, err := r.levelSelect(key).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var level entity.InventoryLevel
	if err := pgxscan.Get(ctx, r.txm.Querier(uow), &level, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("inventory_level", key.String())
		}
		return nil, fmt.Errorf("get level: %w", err)
	}
	return &level, nil
}

func (r *StockRepo) createLevelQuery(key entity.StockKey, now time.Time) squirrel.InsertBuilder {
	return r.builder.Insert(levelsTable).
		Columns("item_id", "warehouse_id", "qty_on_hand", "qty_reserved", "version", "alert_sent", "created_at", "updated_at").
		Values(key.ItemID, key.WarehouseID, 0, 0, 1, false, now, now).
		Suffix("ON CONFLICT (item_id, warehouse_id) DO NOTHING")
}

// CreateLevelIfAbsent implements stock.LevelRepository.
func (r *StockRepo) CreateLevelIfAbsent(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, now time.Time) error {
	q, err := r.txm.MustQuerier(uow)
	if err != nil {
		return err
	}

	sql, args, err := r.createLevelQuery(key, now).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert level: %w", err)
	}
	return nil
}

func (r *StockRepo) levelUpdateQuery(level *entity.InventoryLevel, expectedVersion int) squirrel.UpdateBuilder {
	return r.builder.Update(levelsTable).
		Set("qty_on_hand", level.QtyOnHand).
		Set("qty_reserved", level.QtyReserved).
		Set("min_level", level.MinLevel).
		Set("reorder_point", level.ReorderPoint).
		Set("alert_sent", level.AlertSent).
		Set("last_movement_date", level.LastMovementDate).
		Set("updated_at", level.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{
			"item_id":      level.ItemID,
			"warehouse_id": level.WarehouseID,
			"version":      expectedVersion,
		})
}

// UpdateLevelIfVersion implements stock.LevelRepository.
func (r *StockRepo) UpdateLevelIfVersion(ctx context.Context, uow tx.UnitOfWork, level *entity.InventoryLevel, expectedVersion int) (bool, error) {
	q, err := r.txm.MustQuerier(uow)
	if err != nil {
		return false, err
	}

	sql, args, err := r.levelUpdateQuery(level, expectedVersion).ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	level.Version = expectedVersion + 1
	return true, nil
}

func (r *StockRepo) listLevelsQuery(filter stock.LevelFilter) squirrel.SelectBuilder {
	q := r.builder.Select(levelColumns...).From(levelsTable)

	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if len(filter.ItemIDs) > 0 {
		q = q.Where(squirrel.Eq{"item_id": filter.ItemIDs})
	}
	if filter.ExcludeZero {
		q = q.Where(squirrel.Or{
			squirrel.NotEq{"qty_on_hand": 0},
			squirrel.NotEq{"qty_reserved": 0},
		})
	}
	if filter.AtOrBelowReorder {
		// GREATEST skips NULL thresholds
		q = q.Where("(qty_on_hand - qty_reserved) <= GREATEST(min_level, reorder_point)")
	}

	q = q.OrderBy("item_id", "warehouse_id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

// ListLevels implements stock.LevelRepository.
func (r *StockRepo) ListLevels(ctx context.Context, uow tx.UnitOfWork, filter stock.LevelFilter) ([]entity.InventoryLevel, error) {
	sql, args, err := r.listLevelsQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var levels []entity.InventoryLevel
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &levels, sql, args...); err != nil {
		return nil, fmt.Errorf("select levels: %w", err)
	}
	return levels, nil
}

// --- lots ---

// CreateLot implements stock.LotRepository.
func (r *StockRepo) CreateLot(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot) error {
	q, err := r.txm.MustQuerier(uow)
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Insert(lotsTable).SetMap(postgres.StructToMap(lot)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

// fifoLots selects the lots of key, oldest receipt first. Ids are UUIDv7, so
// the tie-break is creation order.
func (r *StockRepo) fifoLots(key entity.StockKey, pred ...squirrel.Sqlizer) squirrel.SelectBuilder {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"item_id": key.ItemID, "warehouse_id": key.WarehouseID})
	for _, p := range pred {
		q = q.Where(p)
	}
	return q.OrderBy("receipt_date", "id")
}

func (r *StockRepo) selectLots(ctx context.Context, uow tx.UnitOfWork, q squirrel.SelectBuilder) ([]entity.InventoryLot, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []entity.InventoryLot
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}
	return lots, nil
}

// ListAvailableLots implements stock.LotRepository.
func (r *StockRepo) ListAvailableLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error) {
	return r.selectLots(ctx, uow, r.fifoLots(key,
		squirrel.Eq{"status": entity.LotStatusActive},
		squirrel.Gt{"available_qty": 0},
	))
}

// ListReservedLots implements stock.LotRepository.
func (r *StockRepo) ListReservedLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) ([]entity.InventoryLot, error) {
	return r.selectLots(ctx, uow, r.fifoLots(key,
		squirrel.Eq{"status": entity.LotStatusActive},
		squirrel.Gt{"reserved_qty": 0},
	))
}

// ListLots implements stock.LotRepository.
func (r *StockRepo) ListLots(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, filter stock.LotFilter) ([]entity.InventoryLot, error) {
	q := r.fifoLots(key)
	if len(filter.Statuses) > 0 {
		q = q.Where(squirrel.Eq{"status": filter.Statuses})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return r.selectLots(ctx, uow, q)
}

func (r *StockRepo) lotUpdateQuery(lot *entity.InventoryLot, expectedVersion int) squirrel.UpdateBuilder {
	return r.builder.Update(lotsTable).
		Set("available_qty", lot.AvailableQty).
		Set("reserved_qty", lot.ReservedQty).
		Set("status", lot.Status).
		Set("updated_at", lot.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": lot.ID, "version": expectedVersion})
}

// UpdateLotIfVersion implements stock.LotRepository.
func (r *StockRepo) UpdateLotIfVersion(ctx context.Context, uow tx.UnitOfWork, lot *entity.InventoryLot, expectedVersion int) (bool, error) {
	q, err := r.txm.MustQuerier(uow)
	if err != nil {
		return false, err
	}

	sql, args, err := r.lotUpdateQuery(lot, expectedVersion).ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	lot.Version = expectedVersion + 1
	return true, nil
}

// --- consumption log ---

func consumptionRow(c entity.LotConsumption) []any {
	values := postgres.StructToMap(c)
	row := make([]any, len(consumptionColumns))
	for i, col := range consumptionColumns {
		row[i] = values[col]
	}
	return row
}

// AppendConsumptions implements stock.ConsumptionRepository using COPY.
func (r *StockRepo) AppendConsumptions(ctx context.Context, uow tx.UnitOfWork, rows []entity.LotConsumption) error {
	values := make([][]any, 0, len(rows))
	for _, c := range rows {
		values = append(values, consumptionRow(c))
	}

	if _, err := r.inserter.CopyFromSlice(ctx, uow, consumptionsTable, consumptionColumns, values); err != nil {
		return fmt.Errorf("copy consumptions: %w", err)
	}
	return nil
}

// eqOrNull matches col against *v, or IS NULL for a nil v.
func eqOrNull[T any](col string, v *T) squirrel.Eq {
	if v == nil {
		return squirrel.Eq{col: nil}
	}
	return squirrel.Eq{col: *v}
}

func (r *StockRepo) consumptionsQuery(ref entity.ConsumptionRef) squirrel.SelectBuilder {
	return r.builder.Select(consumptionColumns...).
		From(consumptionsTable).
		Where(eqOrNull("mirv_line_id", ref.MirvLineID)).
		Where(eqOrNull("reference_type", ref.ReferenceType)).
		Where(eqOrNull("reference_id", ref.ReferenceID)).
		OrderBy("consumption_date", "id")
}

// ListConsumptions implements stock.ConsumptionRepository.
func (r *StockRepo) ListConsumptions(ctx context.Context, uow tx.UnitOfWork, ref entity.ConsumptionRef) ([]entity.LotConsumption, error) {
	sql, args, err := r.consumptionsQuery(ref).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []entity.LotConsumption
	if err := pgxscan.Select(ctx, r.txm.Querier(uow), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select consumptions: %w", err)
	}
	return rows, nil
}
