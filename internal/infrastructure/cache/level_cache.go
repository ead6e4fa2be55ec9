package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/registers/stock"
	"stockledger/pkg/logger"
)

const (
	levelKeyPrefix  = "stockledger:level:"
	DefaultLevelTTL = 5 * time.Minute
)

// LevelLoader reads the authoritative level on a cache miss.
type LevelLoader func(ctx context.Context, key entity.StockKey) (stock.StockLevel, error)

// LevelCache is a read-through redis cache of stock levels.
// Entries are dropped when the database announces a change (see LevelListener)
// and otherwise expire after ttl.
type LevelCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewLevelCache creates a level cache. ttl <= 0 means DefaultLevelTTL.
func NewLevelCache(client redis.Cmdable, ttl time.Duration) *LevelCache {
	if ttl <= 0 {
		ttl = DefaultLevelTTL
	}
	return &LevelCache{client: client, ttl: ttl}
}

func levelKey(key entity.StockKey) string {
	return levelKeyPrefix + key.String()
}

// Get returns the cached level of key, loading and storing it on a miss.
// Redis failures degrade to a direct load.
func (c *LevelCache) Get(ctx context.Context, key entity.StockKey, load LevelLoader) (stock.StockLevel, error) {
	raw, err := c.client.Get(ctx, levelKey(key)).Bytes()
	switch {
	case err == nil:
		var level stock.StockLevel
		if err := json.Unmarshal(raw, &level); err == nil {
			return level, nil
		}
		logger.Warn(ctx, "dropping unreadable cached level", "key", key.String())
	case !errors.Is(err, redis.Nil):
		logger.Warn(ctx, "level cache read failed", "key", key.String(), "error", err)
	}

	level, err := load(ctx, key)
	if err != nil {
		return stock.StockLevel{}, err
	}

	if b, err := json.Marshal(level); err == nil {
		if err := c.client.Set(ctx, levelKey(key), b, c.ttl).Err(); err != nil {
			logger.Warn(ctx, "level cache write failed", "key", key.String(), "error", err)
		}
	}
	return level, nil
}

// Invalidate drops the cached levels of keys.
func (c *LevelCache) Invalidate(ctx context.Context, keys ...entity.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = levelKey(k)
	}
	return c.client.Del(ctx, names...).Err()
}
