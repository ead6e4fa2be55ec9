// Package memory provides an in-process implementation of the ledger and
// document repositories together with a transaction manager.
//
// Units of work are serialized and roll back by restoring a snapshot, which
// makes the store suitable for domain tests and local tooling. It is not a
// production backend.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/documents/mirv"
	"stockledger/pkg/logger"
)

// Compile-time check that Store implements tx.Manager interface.
var _ tx.Manager = (*Store)(nil)

var (
	_ tx.Isolator    = (*Tx)(nil)
	_ tx.CommitHooks = (*Tx)(nil)
)

type state struct {
	levels       map[entity.StockKey]entity.InventoryLevel
	lots         map[id.ID]entity.InventoryLot
	consumptions []entity.LotConsumption
	vouchers     map[id.ID]mirv.MIRV
	voucherLines map[id.ID][]mirv.Line
	gatePasses   map[id.ID]gatepass.GatePass
	passLines    map[id.ID][]gatepass.Line
}

func newState() *state {
	return &state{
		levels:       make(map[entity.StockKey]entity.InventoryLevel),
		lots:         make(map[id.ID]entity.InventoryLot),
		vouchers:     make(map[id.ID]mirv.MIRV),
		voucherLines: make(map[id.ID][]mirv.Line),
		gatePasses:   make(map[id.ID]gatepass.GatePass),
		passLines:    make(map[id.ID][]gatepass.Line),
	}
}

// clone copies the maps; rows are values, line slices are copied on write.
func (s *state) clone() *state {
	return &state{
		levels:       maps.Clone(s.levels),
		lots:         maps.Clone(s.lots),
		consumptions: append([]entity.LotConsumption(nil), s.consumptions...),
		vouchers:     maps.Clone(s.vouchers),
		voucherLines: maps.Clone(s.voucherLines),
		gatePasses:   maps.Clone(s.gatePasses),
		passLines:    maps.Clone(s.passLines),
	}
}

// Store holds every table in memory.
type Store struct {
	// txMu serializes units of work. It is not reentrant: nested calls must
	// pass the open unit of work instead of nil.
	txMu sync.Mutex

	mu   sync.Mutex
	data *state

	seq atomic.Int64

	levelConflicts map[entity.StockKey]int
	lotConflicts   map[id.ID]int
	levelAttempts  map[entity.StockKey]int
	commits        int
	rollbacks      int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:           newState(),
		levelConflicts: make(map[entity.StockKey]int),
		lotConflicts:   make(map[id.ID]int),
		levelAttempts:  make(map[entity.StockKey]int),
	}
}

// Tx is the memory unit of work.
type Tx struct {
	tx.Hooks
	id    string
	store *Store
}

// ID implements tx.UnitOfWork.
func (t *Tx) ID() string { return t.id }

// Isolate runs fn against a snapshot point; a failing fn leaves the unit of
// work as it was before the call.
func (t *Tx) Isolate(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.mu.Lock()
	snapshot := t.store.data.clone()
	t.store.mu.Unlock()
	mark := t.Mark()

	if err := fn(ctx); err != nil {
		t.Truncate(mark)
		t.store.mu.Lock()
		t.store.data = snapshot
		t.store.mu.Unlock()
		return err
	}
	return nil
}

// RunInTransaction implements tx.Manager.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	unit := &Tx{id: fmt.Sprintf("mem-%d", s.seq.Add(1)), store: s}
	if err := fn(ctx, unit); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.rollbacks++
		s.mu.Unlock()
		logger.Debug(ctx, "memory unit of work rolled back", "tx", unit.id, "error", err)
		return err
	}

	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	unit.Run(ctx)
	return nil
}

// Stats reports committed and rolled back units of work.
func (s *Store) Stats() (commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollbacks
}

// InjectLevelConflicts makes the next n conditional writes of key lose their
// race: a concurrent writer bumps the stored version just before each one.
func (s *Store) InjectLevelConflicts(key entity.StockKey, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levelConflicts[key] = n
}

// InjectLotConflict makes the next conditional write of lotID lose its race.
func (s *Store) InjectLotConflict(lotID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lotConflicts[lotID]++
}

// LevelWriteAttempts reports how many conditional writes key has seen.
func (s *Store) LevelWriteAttempts(key entity.StockKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelAttempts[key]
}

// SeedLevel stores level as is, bypassing the version guard.
func (s *Store) SeedLevel(level entity.InventoryLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.levels[level.StockKey] = level
}

// SeedLot stores lot as is.
func (s *Store) SeedLot(lot entity.InventoryLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.lots[lot.ID] = lot
}

// Stock returns the ledger repositories.
func (s *Store) Stock() *StockRepo { return &StockRepo{s: s} }

// Vouchers returns the material issue voucher repository.
func (s *Store) Vouchers() *VoucherRepo { return &VoucherRepo{s: s} }

// GatePasses returns the gate pass repository.
func (s *Store) GatePasses() *GatePassRepo { return &GatePassRepo{s: s} }

// read runs fn under the data lock.
func (s *Store) read(fn func(d *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// write runs fn under the data lock. Writes need an open unit of work.
func (s *Store) write(uow tx.UnitOfWork, fn func(d *state) error) error {
	if uow == nil {
		return fmt.Errorf("memory: write outside unit of work")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}
