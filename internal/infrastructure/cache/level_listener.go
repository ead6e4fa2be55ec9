// Package cache keeps read models of stock levels in step with the ledger
// through PostgreSQL LISTEN/NOTIFY and redis.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger/internal/core/entity"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

// KeysHandler is called with the stock keys of a committed level change.
type KeysHandler func(ctx context.Context, keys []entity.StockKey) error

// LevelListener subscribes to level change notifications and fans them out
// to registered handlers. It holds one pooled connection while running.
type LevelListener struct {
	pool *pgxpool.Pool

	handlers   []KeysHandler
	handlersMu sync.RWMutex

	received     atomic.Int64
	decodeErrors atomic.Int64

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewLevelListener creates a listener on postgres.LevelsChangedChannel.
func NewLevelListener(pool *pgxpool.Pool) *LevelListener {
	return &LevelListener{pool: pool}
}

// OnChange registers a handler for level changes.
func (l *LevelListener) OnChange(h KeysHandler) {
	l.handlersMu.Lock()
	l.handlers = append(l.handlers, h)
	l.handlersMu.Unlock()
}

// Start begins listening in the background.
func (l *LevelListener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return nil
	}
	if l.pool == nil {
		return fmt.Errorf("level listener: nil pool")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
	logger.Info(l.ctx, "level listener started", "channel", postgres.LevelsChangedChannel)
	return nil
}

// Stop gracefully stops the listener.
func (l *LevelListener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	logger.Info(context.Background(), "level listener stopped")
}

// listenLoop keeps a LISTEN connection open, reconnecting on failure.
func (l *LevelListener) listenLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		conn, err := l.pool.Acquire(l.ctx)
		if err != nil {
			logger.Error(l.ctx, "failed to acquire connection for LISTEN", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(l.ctx, "LISTEN "+postgres.LevelsChangedChannel); err != nil {
			logger.Error(l.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			time.Sleep(time.Second)
			continue
		}

		l.waitForNotifications(conn)

		// UNLISTEN before the connection goes back to the pool
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}
}

// waitForNotifications blocks waiting for NOTIFY events.
func (l *LevelListener) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(l.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if conn.Conn().IsClosed() {
				logger.Warn(l.ctx, "LISTEN connection lost, reconnecting")
				return
			}
			continue
		}

		l.handleNotification(notification.Payload)
	}
}

// handleNotification decodes payload and calls every handler in turn.
// A failing or panicking handler does not stop the others.
func (l *LevelListener) handleNotification(payload string) {
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.received.Add(1)

	keys, err := postgres.DecodeKeys(payload)
	if err != nil {
		l.decodeErrors.Add(1)
		logger.Warn(ctx, "ignoring malformed level notification", "error", err)
		return
	}
	logger.Debug(ctx, "levels changed", "keys", len(keys))

	l.handlersMu.RLock()
	defer l.handlersMu.RUnlock()
	for _, h := range l.handlers {
		func(h KeysHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "level handler panic recovered", "panic", r)
				}
			}()
			if err := h(ctx, keys); err != nil {
				logger.Warn(ctx, "level handler failed", "error", err)
			}
		}(h)
	}
}

// ListenerStats reports notification counters.
type ListenerStats struct {
	Received     int64
	DecodeErrors int64
}

// Stats returns current listener statistics.
func (l *LevelListener) Stats() ListenerStats {
	return ListenerStats{
		Received:     l.received.Load(),
		DecodeErrors: l.decodeErrors.Load(),
	}
}
