package stock

import (
	"context"
	"errors"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/tx"
	"stockledger/pkg/logger"
)

var errNoBreach = errors.New("no threshold breach")

// classify returns the severity of a level's threshold breach, if any.
func classify(level *entity.InventoryLevel) (Severity, bool) {
	available := level.Available()
	if level.MinLevel != nil && available <= *level.MinLevel {
		return SeverityCritical, true
	}
	if level.ReorderPoint != nil && available <= *level.ReorderPoint {
		return SeverityWarning, true
	}
	return "", false
}

// checkLowStock emits at most one alert per depletion episode of key.
// It never fails the caller: every error is logged and dropped.
func (s *Service) checkLowStock(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey) {
	err := tx.Isolated(ctx, uow, func(ctx context.Context) error {
		level, err := s.repo.GetLevel(ctx, uow, key)
		if err != nil {
			return err
		}
		if level.AlertSent {
			return nil
		}
		if _, breached := classify(level); !breached {
			return nil
		}

		var severity Severity
		latched, err := s.updateLevelWithVersion(ctx, uow, key, func(level *entity.InventoryLevel) error {
			var breached bool
			severity, breached = classify(level)
			if !breached || level.AlertSent {
				return errNoBreach
			}
			level.AlertSent = true
			return nil
		})
		if errors.Is(err, errNoBreach) {
			return nil
		}
		if err != nil {
			return err
		}

		alert := LowStockAlert{
			StockKey:     key,
			Severity:     severity,
			OnHand:       latched.QtyOnHand,
			Reserved:     latched.QtyReserved,
			Available:    latched.Available(),
			MinLevel:     latched.MinLevel,
			ReorderPoint: latched.ReorderPoint,
			DetectedAt:   s.now(),
		}

		logger.Warn(ctx, "low stock",
			"item_id", key.ItemID,
			"warehouse_id", key.WarehouseID,
			"severity", string(severity),
			"available", alert.Available,
		)

		if s.alerts == nil {
			return nil
		}
		return s.alerts.Emit(ctx, uow, alert)
	})
	if err != nil {
		logger.Warn(ctx, "low stock check failed", "key", key.String(), "error", err)
	}
}
