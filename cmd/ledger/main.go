// Package main provides the operator CLI of the stock ledger.
// Usage: ledger level <item> <warehouse>
//
//	ledger add-stock <item> <warehouse> <qty> [--cost 2.50] [--by user]
//	ledger reserve|release <item> <warehouse> <qty>
//	ledger lots <item> <warehouse>
//	ledger create-mirv <warehouse> <item>=<qty>... [--location site] [--by user]
//	ledger submit|approve|sign-qc|cancel <mirv-id> [--by user]
//	ledger issue <mirv-id> [<line>=<qty>...] [--by user]
//	ledger history <entity-type> <entity-id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"stockledger/internal/app"
	"stockledger/internal/config"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/documents/mirv"
	"stockledger/internal/domain/registers/stock"
	"stockledger/internal/infrastructure/cache"
	"stockledger/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if cmd := os.Args[1]; cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.App.IsDevelopment(),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithLogger(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	c := &cli{app: a, cfg: cfg, args: os.Args[2:]}
	ctx = appctx.WithUser(appctx.EnsureTrace(ctx), &appctx.UserContext{UserID: c.by()})

	var result any
	switch os.Args[1] {
	case "level":
		result, err = c.level(ctx)
	case "add-stock":
		result, err = c.addStock(ctx)
	case "reserve":
		result, err = c.reserve(ctx)
	case "release":
		result, err = c.release(ctx)
	case "lots":
		result, err = c.lots(ctx)
	case "create-mirv":
		result, err = c.createMIRV(ctx)
	case "submit":
		result, err = c.withVoucher(ctx, a.Vouchers.Submit)
	case "approve":
		result, err = c.withVoucher(ctx, func(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*mirv.MIRV, error) {
			return a.Vouchers.Approve(ctx, uow, docID, c.by(), nil)
		})
	case "sign-qc":
		result, err = c.withVoucher(ctx, func(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*mirv.MIRV, error) {
			return a.Vouchers.SignQC(ctx, uow, docID, c.by())
		})
	case "issue":
		result, err = c.issue(ctx)
	case "cancel":
		result, err = c.cancel(ctx)
	case "history":
		result, err = c.history(ctx)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func printUsage() {
	fmt.Println(`Stock ledger CLI

Usage:
  ledger <command> [arguments]

Commands:
  level <item> <warehouse>                    Show on-hand, reserved and available
  add-stock <item> <warehouse> <qty>          Receive a lot (--cost, --by)
  reserve <item> <warehouse> <qty>            Reserve stock FIFO
  release <item> <warehouse> <qty>            Release a reservation
  lots <item> <warehouse>                     List lots, oldest first
  create-mirv <warehouse> <item>=<qty>...     Create a draft voucher (--location, --by)
  submit <mirv-id>                            Send a voucher for approval
  approve <mirv-id>                           Approve and reserve (--by)
  sign-qc <mirv-id>                           QC counter-signature (--by)
  issue <mirv-id> [<line>=<qty>...]           Issue all or part of a voucher (--by)
  cancel <mirv-id>                            Cancel a voucher
  history <entity-type> <entity-id>           Show the audit trail

Environment:
  DATABASE_URL    PostgreSQL connection string (required)
  REDIS_ADDR      Redis for the level cache (optional)`)
}

type cli struct {
	app  *app.App
	cfg  *config.Config
	args []string
}

// positional returns the arguments that are not --flag value pairs.
func (c *cli) positional() []string {
	var out []string
	for i := 0; i < len(c.args); i++ {
		if strings.HasPrefix(c.args[i], "--") {
			i++
			continue
		}
		out = append(out, c.args[i])
	}
	return out
}

func (c *cli) flag(name string) string {
	for i := 0; i < len(c.args)-1; i++ {
		if c.args[i] == "--"+name {
			return c.args[i+1]
		}
	}
	return ""
}

func (c *cli) by() string {
	if v := c.flag("by"); v != "" {
		return v
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "cli"
}

func (c *cli) need(n int, usage string) ([]string, error) {
	args := c.positional()
	if len(args) < n {
		return nil, fmt.Errorf("usage: ledger %s", usage)
	}
	return args, nil
}

func parseKey(item, warehouse string) (entity.StockKey, error) {
	itemID, err := id.Parse(item)
	if err != nil {
		return entity.StockKey{}, fmt.Errorf("invalid item id: %w", err)
	}
	warehouseID, err := id.Parse(warehouse)
	if err != nil {
		return entity.StockKey{}, fmt.Errorf("invalid warehouse id: %w", err)
	}
	return stock.Key(itemID, warehouseID), nil
}

// pairs parses <id>=<qty> arguments.
func pairs(args []string) (map[id.ID]types.Quantity, []id.ID, error) {
	out := make(map[id.ID]types.Quantity, len(args))
	order := make([]id.ID, 0, len(args))
	for _, arg := range args {
		left, right, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, nil, fmt.Errorf("expected <id>=<qty>, got %q", arg)
		}
		key, err := id.Parse(left)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid id %q: %w", left, err)
		}
		qty, err := types.ParseQuantity(right)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid quantity %q: %w", right, err)
		}
		if _, seen := out[key]; !seen {
			order = append(order, key)
		}
		out[key] += qty
	}
	return out, order, nil
}

func (c *cli) level(ctx context.Context) (any, error) {
	args, err := c.need(2, "level <item> <warehouse>")
	if err != nil {
		return nil, err
	}
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return nil, err
	}

	load := func(ctx context.Context, key entity.StockKey) (stock.StockLevel, error) {
		return c.app.Stock.GetStockLevel(ctx, nil, key.ItemID, key.WarehouseID)
	}

	client, err := cache.NewRedisClient(ctx, cache.Config{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
	if err != nil {
		logger.Debug(ctx, "level cache unavailable, reading database", "error", err)
		return load(ctx, key)
	}
	defer client.Close()

	return cache.NewLevelCache(client, c.cfg.Redis.LevelTTL).Get(ctx, key, load)
}

func (c *cli) addStock(ctx context.Context) (any, error) {
	args, err := c.need(3, "add-stock <item> <warehouse> <qty> [--cost 2.50]")
	if err != nil {
		return nil, err
	}
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return nil, err
	}
	qty, err := types.ParseQuantity(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid quantity: %w", err)
	}

	req := stock.AddStockRequest{
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		Quantity:    qty,
		PerformedBy: c.by(),
	}
	if raw := c.flag("cost"); raw != "" {
		cost, err := types.NewMoneyFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid cost: %w", err)
		}
		req.UnitCost = &cost
	}

	var lot *entity.InventoryLot
	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		lot, err = c.app.Stock.AddStock(ctx, uow, req)
		return err
	})
	return lot, err
}

func (c *cli) movement(ctx context.Context, usage string, fn func(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity) error) (any, error) {
	args, err := c.need(3, usage)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return nil, err
	}
	qty, err := types.ParseQuantity(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid quantity: %w", err)
	}

	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		return fn(ctx, uow, key, qty)
	})
	if err != nil {
		return nil, err
	}
	return c.app.Stock.GetStockLevel(ctx, nil, key.ItemID, key.WarehouseID)
}

func (c *cli) reserve(ctx context.Context) (any, error) {
	return c.movement(ctx, "reserve <item> <warehouse> <qty>", func(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity) error {
		_, err := c.app.Stock.Reserve(ctx, uow, key.ItemID, key.WarehouseID, qty)
		return err
	})
}

func (c *cli) release(ctx context.Context) (any, error) {
	return c.movement(ctx, "release <item> <warehouse> <qty>", func(ctx context.Context, uow tx.UnitOfWork, key entity.StockKey, qty types.Quantity) error {
		return c.app.Stock.Release(ctx, uow, key.ItemID, key.WarehouseID, qty)
	})
}

func (c *cli) lots(ctx context.Context) (any, error) {
	args, err := c.need(2, "lots <item> <warehouse>")
	if err != nil {
		return nil, err
	}
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return nil, err
	}
	return c.app.Stock.ListLots(ctx, nil, key.ItemID, key.WarehouseID, stock.LotFilter{})
}

func (c *cli) createMIRV(ctx context.Context) (any, error) {
	args, err := c.need(2, "create-mirv <warehouse> <item>=<qty>... [--location site]")
	if err != nil {
		return nil, err
	}
	warehouseID, err := id.Parse(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid warehouse id: %w", err)
	}
	quantities, order, err := pairs(args[1:])
	if err != nil {
		return nil, err
	}

	doc := mirv.NewMIRV(warehouseID, c.by())
	if loc := c.flag("location"); loc != "" {
		doc.LocationOfWork = &loc
	}
	for _, itemID := range order {
		doc.AddLine(itemID, quantities[itemID])
	}

	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		return c.app.Vouchers.Create(ctx, uow, doc)
	})
	return doc, err
}

func (c *cli) voucherID() (id.ID, error) {
	args, err := c.need(1, os.Args[1]+" <mirv-id>")
	if err != nil {
		return id.Nil(), err
	}
	docID, err := id.Parse(args[0])
	if err != nil {
		return id.Nil(), fmt.Errorf("invalid voucher id: %w", err)
	}
	return docID, nil
}

func (c *cli) withVoucher(ctx context.Context, fn func(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*mirv.MIRV, error)) (any, error) {
	docID, err := c.voucherID()
	if err != nil {
		return nil, err
	}

	var doc *mirv.MIRV
	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		doc, err = fn(ctx, uow, docID)
		return err
	})
	return doc, err
}

func (c *cli) issue(ctx context.Context) (any, error) {
	docID, err := c.voucherID()
	if err != nil {
		return nil, err
	}
	quantities, order, err := pairs(c.positional()[1:])
	if err != nil {
		return nil, err
	}

	var partial []mirv.PartialItem
	for _, lineID := range order {
		partial = append(partial, mirv.PartialItem{LineID: lineID, Quantity: quantities[lineID]})
	}

	var result *mirv.IssueResult
	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		result, err = c.app.Vouchers.Issue(ctx, uow, docID, c.by(), partial)
		return err
	})
	return result, err
}

func (c *cli) cancel(ctx context.Context) (any, error) {
	docID, err := c.voucherID()
	if err != nil {
		return nil, err
	}

	var result *mirv.CancelResult
	err = c.app.TxManager.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		var err error
		result, err = c.app.Vouchers.Cancel(ctx, uow, docID)
		return err
	})
	return result, err
}

func (c *cli) history(ctx context.Context) (any, error) {
	args, err := c.need(2, "history <entity-type> <entity-id>")
	if err != nil {
		return nil, err
	}
	return c.app.Audit.GetEntityHistory(ctx, args[0], args[1], 50)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
