package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/registers/stock"
)

// LevelsChangedChannel is the NOTIFY channel carrying changed stock keys.
const LevelsChangedChannel = "stock_levels_changed"

// notifyChunk keeps each payload well below the 8000 byte NOTIFY limit.
const notifyChunk = 50

// NotifyInvalidator signals level changes with pg_notify. Notifications sent
// inside a transaction are delivered on commit and dropped on rollback, so
// listeners only ever hear about committed changes.
type NotifyInvalidator struct {
	txManager *TxManager
}

var _ stock.CacheInvalidator = (*NotifyInvalidator)(nil)

// NewNotifyInvalidator creates a pg_notify based invalidator.
func NewNotifyInvalidator(txManager *TxManager) *NotifyInvalidator {
	return &NotifyInvalidator{txManager: txManager}
}

// Invalidate implements stock.CacheInvalidator.
func (n *NotifyInvalidator) Invalidate(ctx context.Context, uow tx.UnitOfWork, keys ...entity.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	q := n.txManager.Querier(uow)

	for start := 0; start < len(keys); start += notifyChunk {
		end := min(start+notifyChunk, len(keys))
		payload, err := EncodeKeys(keys[start:end])
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "SELECT pg_notify($1, $2)", LevelsChangedChannel, payload); err != nil {
			return fmt.Errorf("notify %s: %w", LevelsChangedChannel, err)
		}
	}
	return nil
}

// EncodeKeys renders keys as a NOTIFY payload.
func EncodeKeys(keys []entity.StockKey) (string, error) {
	b, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("encode stock keys: %w", err)
	}
	return string(b), nil
}

// DecodeKeys parses a payload written by EncodeKeys.
func DecodeKeys(payload string) ([]entity.StockKey, error) {
	var keys []entity.StockKey
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		return nil, fmt.Errorf("decode stock keys: %w", err)
	}
	return keys, nil
}
