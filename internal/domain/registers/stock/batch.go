package stock

import (
	"context"
	"fmt"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/pkg/logger"
)

// BatchItem is one line of a batch operation.
type BatchItem struct {
	ItemID      id.ID          `json:"itemId"`
	WarehouseID id.ID          `json:"warehouseId"`
	Quantity    types.Quantity `json:"quantity"`
	// Ref is recorded on consumption slices; ignored by ReserveBatch
	Ref entity.ConsumptionRef `json:"ref"`
}

func (i BatchItem) key() entity.StockKey { return Key(i.ItemID, i.WarehouseID) }

// FailedItem is a batch line that could not be reserved.
type FailedItem struct {
	BatchItem
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// ReserveBatchResult reports a batch reservation.
type ReserveBatchResult struct {
	Success     bool         `json:"success"`
	FailedItems []FailedItem `json:"failedItems,omitempty"`
}

// ItemCost is the FIFO cost of one consumed batch line.
type ItemCost struct {
	BatchItem
	TotalCost types.Money `json:"totalCost"`
}

// ConsumeBatchResult reports a batch consumption or deduction.
type ConsumeBatchResult struct {
	TotalCost types.Money `json:"totalCost"`
	Items     []ItemCost  `json:"items"`
}

// AddStockBatch receives every request inside one unit of work.
// Lot numbers are drawn up front so a failing receipt leaves no open scope
// waiting on the numerator.
func (s *Service) AddStockBatch(ctx context.Context, uow tx.UnitOfWork, reqs []AddStockRequest) ([]*entity.InventoryLot, error) {
	numbers := make([]string, len(reqs))
	for i, req := range reqs {
		if err := req.validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		number, err := s.nextLotNumber(ctx)
		if err != nil {
			return nil, err
		}
		numbers[i] = number
	}

	lots := make([]*entity.InventoryLot, 0, len(reqs))
	err := tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		for i, req := range reqs {
			lot, err := s.addStock(ctx, uow, req, numbers[i])
			if err != nil {
				return err
			}
			lots = append(lots, lot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock batch received", "lots", len(lots))
	return lots, nil
}

// ReserveBatch reserves every item inside one unit of work. Items that lack
// availability or whose lots disagree with their level are reported in
// FailedItems instead of aborting; any other error aborts the whole batch.
func (s *Service) ReserveBatch(ctx context.Context, uow tx.UnitOfWork, items []BatchItem) (ReserveBatchResult, error) {
	for i, item := range items {
		if !item.Quantity.IsPositive() {
			return ReserveBatchResult{}, apperror.NewValidation(fmt.Sprintf("item %d: quantity must be positive", i)).
				WithDetail("field", "quantity")
		}
	}

	var result ReserveBatchResult
	err := tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		result = ReserveBatchResult{}
		for _, item := range items {
			ok, err := s.reserve(ctx, uow, item.key(), item.Quantity)
			switch {
			case err == nil && ok:
				continue
			case err == nil:
				result.FailedItems = append(result.FailedItems, FailedItem{
					BatchItem: item,
					Reason:    "insufficient available stock",
					Code:      apperror.CodeInsufficientStock,
				})
			case apperror.IsDataIntegrity(err):
				logger.Error(ctx, "lot totals disagree with level", "key", item.key().String(), "error", err)
				result.FailedItems = append(result.FailedItems, FailedItem{
					BatchItem: item,
					Reason:    err.Error(),
					Code:      apperror.CodeDataIntegrity,
				})
			default:
				return err
			}
		}
		result.Success = len(result.FailedItems) == 0
		return nil
	})
	if err != nil {
		return ReserveBatchResult{}, err
	}
	return result, nil
}

// ConsumeBatch consumes reserved stock for every item. The first shortfall
// aborts the whole unit of work.
func (s *Service) ConsumeBatch(ctx context.Context, uow tx.UnitOfWork, items []BatchItem) (ConsumeBatchResult, error) {
	return s.withdrawBatch(ctx, uow, items, true)
}

// DeductBatch deducts unreserved stock for every item. The first shortfall
// aborts the whole unit of work.
func (s *Service) DeductBatch(ctx context.Context, uow tx.UnitOfWork, items []BatchItem) (ConsumeBatchResult, error) {
	return s.withdrawBatch(ctx, uow, items, false)
}

func (s *Service) withdrawBatch(ctx context.Context, uow tx.UnitOfWork, items []BatchItem, reserved bool) (ConsumeBatchResult, error) {
	for i, item := range items {
		if !item.Quantity.IsPositive() {
			return ConsumeBatchResult{}, apperror.NewValidation(fmt.Sprintf("item %d: quantity must be positive", i)).
				WithDetail("field", "quantity")
		}
	}

	var result ConsumeBatchResult
	err := tx.Within(ctx, s.txm, uow, func(ctx context.Context, uow tx.UnitOfWork) error {
		result = ConsumeBatchResult{TotalCost: types.Zero(), Items: make([]ItemCost, 0, len(items))}

		touched := make([]entity.StockKey, 0, len(items))
		seen := make(map[entity.StockKey]struct{}, len(items))

		for _, item := range items {
			cost, err := s.consume(ctx, uow, item.key(), item.Quantity, item.Ref, reserved)
			if err != nil {
				return err
			}
			result.Items = append(result.Items, ItemCost{BatchItem: item, TotalCost: cost})
			result.TotalCost = result.TotalCost.Add(cost)

			if _, ok := seen[item.key()]; !ok {
				seen[item.key()] = struct{}{}
				touched = append(touched, item.key())
			}
		}

		for _, key := range touched {
			s.checkLowStock(ctx, uow, key)
		}
		return nil
	})
	if err != nil {
		return ConsumeBatchResult{}, err
	}
	return result, nil
}
