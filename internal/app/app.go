// Package app wires the ledger services onto PostgreSQL.
package app

import (
	"context"
	"fmt"

	"stockledger/internal/config"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/documents/mirv"
	"stockledger/internal/domain/registers/stock"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/document_repo"
	"stockledger/internal/infrastructure/storage/postgres/register_repo"
	"stockledger/pkg/logger"
	"stockledger/pkg/numerator"
)

// App holds the wired services of one process.
type App struct {
	Pool      *postgres.Pool
	TxManager *postgres.TxManager
	Outbox    *postgres.OutboxPublisher
	Audit     *postgres.AuditService

	Stock     *stock.Service
	GatePass  *gatepass.Service
	Vouchers  *mirv.Service
	Numerator *numerator.Service
}

// New connects to the database and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Postgres.DSN)
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConnLifetime = cfg.Postgres.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Postgres.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.Postgres.HealthCheckPeriod

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Postgres.StatementTimeout
	txm := postgres.NewTxManagerWithOptions(pool, txOpts)

	auditSvc, err := postgres.NewAuditService(pool.Pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit service: %w", err)
	}

	gen := numerator.New(pool.Pool)
	outbox := postgres.NewOutboxPublisher(txm)

	stockSvc := stock.NewService(stock.ServiceConfig{
		TxManager:     txm,
		Repo:          register_repo.NewStockRepo(txm),
		Numerator:     gen,
		Alerts:        outbox,
		Cache:         postgres.NewNotifyInvalidator(txm),
		Audit:         auditSvc,
		LevelAttempts: cfg.Ledger.LevelAttempts,
	})

	gatePassSvc := gatepass.NewService(document_repo.NewGatePassRepo(txm), gen, txm, auditSvc)

	vouchers := mirv.NewService(mirv.ServiceConfig{
		Repo:               document_repo.NewMIRVRepo(txm),
		Stock:              stockSvc,
		GatePasses:         gatePassSvc,
		Numerator:          gen,
		TxManager:          txm,
		Audit:              auditSvc,
		DefaultDestination: cfg.Ledger.GatePassDestination,
	})

	logger.Info(ctx, "ledger services ready",
		"max_conns", poolCfg.MaxConns,
		"level_attempts", cfg.Ledger.LevelAttempts)

	return &App{
		Pool:      pool,
		TxManager: txm,
		Outbox:    outbox,
		Audit:     auditSvc,
		Stock:     stockSvc,
		GatePass:  gatePassSvc,
		Vouchers:  vouchers,
		Numerator: gen,
	}, nil
}

// Close releases the connection pool.
func (a *App) Close() {
	a.Pool.Close()
}
