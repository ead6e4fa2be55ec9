package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/registers/stock"
	"stockledger/internal/infrastructure/storage/postgres"
)

// fakeRedis implements the subset of redis.Cmdable used by the cache.
type fakeRedis struct {
	redis.Cmdable

	data      map[string]string
	published map[string][]string
	getErr    error
	ttl       time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, published: map[string][]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func testKey() entity.StockKey {
	return entity.StockKey{ItemID: id.New(), WarehouseID: id.New()}
}

func TestLevelCache_ReadThrough(t *testing.T) {
	rdb := newFakeRedis()
	c := NewLevelCache(rdb, 0)
	key := testKey()

	loads := 0
	load := func(context.Context, entity.StockKey) (stock.StockLevel, error) {
		loads++
		return stock.StockLevel{OnHand: types.NewQuantity(10), Reserved: types.NewQuantity(4), Available: types.NewQuantity(6)}, nil
	}

	first, err := c.Get(context.Background(), key, load)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), key, load)
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
	assert.Equal(t, first, second)
	assert.Equal(t, types.NewQuantity(6), second.Available)
	assert.Equal(t, DefaultLevelTTL, rdb.ttl)

	require.NoError(t, c.Invalidate(context.Background(), key))
	_, err = c.Get(context.Background(), key, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestLevelCache_RedisDownFallsBackToLoader(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	c := NewLevelCache(rdb, time.Minute)

	level, err := c.Get(context.Background(), testKey(), func(context.Context, entity.StockKey) (stock.StockLevel, error) {
		return stock.StockLevel{OnHand: types.NewQuantity(1), Available: types.NewQuantity(1)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(1), level.OnHand)
}

func TestLevelCache_LoaderErrorIsReturned(t *testing.T) {
	c := NewLevelCache(newFakeRedis(), time.Minute)
	boom := errors.New("db down")

	_, err := c.Get(context.Background(), testKey(), func(context.Context, entity.StockKey) (stock.StockLevel, error) {
		return stock.StockLevel{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLevelListener_HandleNotification(t *testing.T) {
	l := NewLevelListener(nil)
	keys := []entity.StockKey{testKey(), testKey()}
	payload, err := postgres.EncodeKeys(keys)
	require.NoError(t, err)

	var got []entity.StockKey
	l.OnChange(func(context.Context, []entity.StockKey) error { panic("broken handler") })
	l.OnChange(func(context.Context, []entity.StockKey) error { return errors.New("ignored") })
	l.OnChange(func(_ context.Context, k []entity.StockKey) error {
		got = k
		return nil
	})

	l.handleNotification(payload)
	assert.Equal(t, keys, got)

	l.handleNotification("{broken")
	assert.Equal(t, ListenerStats{Received: 2, DecodeErrors: 1}, l.Stats())
}

func TestLevelListener_InvalidatesCache(t *testing.T) {
	rdb := newFakeRedis()
	c := NewLevelCache(rdb, time.Minute)
	key := testKey()
	rdb.data[levelKey(key)] = `{"onHand":1}`

	l := NewLevelListener(nil)
	l.OnChange(func(ctx context.Context, keys []entity.StockKey) error {
		return c.Invalidate(ctx, keys...)
	})

	payload, err := postgres.EncodeKeys([]entity.StockKey{key})
	require.NoError(t, err)
	l.handleNotification(payload)

	assert.Empty(t, rdb.data)
}

func TestLevelListener_StartRequiresPool(t *testing.T) {
	assert.Error(t, NewLevelListener(nil).Start(context.Background()))
}

func TestEventPublisher_Handle(t *testing.T) {
	rdb := newFakeRedis()
	p := NewEventPublisher(rdb, "")

	msg := &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: postgres.AggregateInventoryLevel,
		AggregateID:   "item:wh",
		EventType:     postgres.EventLowStock,
		Payload:       []byte(`{"severity":"critical"}`),
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Handle(context.Background(), msg))

	sent := rdb.published["stockledger.events.LowStock"]
	require.Len(t, sent, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &env))
	assert.Equal(t, msg.ID.String(), env.ID)
	assert.Equal(t, "item:wh", env.AggregateID)
	assert.JSONEq(t, `{"severity":"critical"}`, string(env.Payload))
	assert.Equal(t, "2026-03-01T09:00:00.000Z", env.CreatedAt)
}
