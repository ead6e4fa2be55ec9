// Package main is the entry point for the stock ledger background worker.
// It relays the transactional outbox to redis and keeps the redis level
// cache in step with committed level changes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/config"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/infrastructure/cache"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.App.IsDevelopment(),
		OutputPaths: cfg.Logger.OutputPaths,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting stockledger worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.Postgres.DSN)
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.ApplicationName = "stockledger-worker"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()
	log.Infow("connected to redis", "addr", cfg.Redis.Addr)

	levels := cache.NewLevelCache(rdb, cfg.Redis.LevelTTL)
	listener := cache.NewLevelListener(pool.Pool)
	listener.OnChange(func(ctx context.Context, keys []entity.StockKey) error {
		return levels.Invalidate(ctx, keys...)
	})
	listener.OnChange(levelsChangedForwarder(rdb, cfg.Redis.ChannelPrefix))
	if err := listener.Start(ctx); err != nil {
		log.Fatalw("failed to start level listener", "error", err)
	}

	relay := postgres.NewOutboxRelay(pool.Pool, cfg.Worker.BatchSize, cache.NewEventPublisher(rdb, cfg.Redis.ChannelPrefix))
	w := &worker{
		pool:            pool.Pool,
		relay:           relay,
		pollInterval:    cfg.Worker.PollInterval,
		cleanupInterval: cfg.Worker.CleanupInterval,
		log:             log.WithComponent("worker"),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	listener.Stop()

	wg.Wait()
	log.Infow("worker stopped", "notifications", listener.Stats().Received)
}

// levelsChangedForwarder republishes level change notifications for services
// that keep their own read models.
func levelsChangedForwarder(rdb *redis.Client, prefix string) cache.KeysHandler {
	channel := cache.NewEventPublisher(rdb, prefix).Channel("LevelsChanged")
	return func(ctx context.Context, keys []entity.StockKey) error {
		payload, err := postgres.EncodeKeys(keys)
		if err != nil {
			return err
		}
		return rdb.Publish(ctx, channel, payload).Err()
	}
}

type worker struct {
	pool            *pgxpool.Pool
	relay           *postgres.OutboxRelay
	pollInterval    time.Duration
	cleanupInterval time.Duration
	log             *logger.Logger
}

// Run polls the outbox until ctx is cancelled.
func (w *worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(appctx.WithTrace(ctx, appctx.NewTraceContext()))
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

// drain processes batches until the outbox is empty.
func (w *worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
		w.log.Debugw("processed outbox batch", "count", n)
	}
}

func (w *worker) cleanup(ctx context.Context) {
	moved, err := w.relay.MoveToDLQ(ctx)
	if err != nil {
		w.log.Errorw("failed to move outbox messages to DLQ", "error", err)
	} else if moved > 0 {
		w.log.Warnw("moved failed outbox messages to DLQ", "count", moved)
	}

	result, err := w.pool.Exec(ctx, `
		DELETE FROM sys_outbox
		WHERE status = 'published' AND published_at < NOW() - INTERVAL '7 days'
	`)
	if err == nil && result.RowsAffected() > 0 {
		w.log.Infow("cleaned up published outbox messages", "count", result.RowsAffected())
	}

	postgres.LogPoolStats(ctx, w.pool)
}
