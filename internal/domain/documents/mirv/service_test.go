package mirv_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/numerator"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/documents/mirv"
	"stockledger/internal/domain/registers/stock"
	"stockledger/internal/infrastructure/storage/memory"
)

type release struct {
	itemID id.ID
	qty    types.Quantity
}

// spyLedger records Release calls and forwards everything to the real ledger.
type spyLedger struct {
	mirv.StockLedger
	releases []release
}

func (s *spyLedger) Release(ctx context.Context, uow tx.UnitOfWork, itemID, warehouseID id.ID, qty types.Quantity) error {
	s.releases = append(s.releases, release{itemID: itemID, qty: qty})
	return s.StockLedger.Release(ctx, uow, itemID, warehouseID, qty)
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Write(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

type fixture struct {
	store  *memory.Store
	audit  *auditLog
	stock  *stock.Service
	ledger *spyLedger
	passes *gatepass.Service
	svc    *mirv.Service
	wh     id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	gen := &numerator.MockGenerator{}
	clock := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	log := &auditLog{}

	stockSvc := stock.NewService(stock.ServiceConfig{
		TxManager: store,
		Repo:      store.Stock(),
		Numerator: gen,
		Audit:     log,
	})
	ledger := &spyLedger{StockLedger: stockSvc}
	passes := gatepass.NewService(store.GatePasses(), gen, store, log).WithClock(clock)

	return &fixture{
		store:  store,
		audit:  log,
		stock:  stockSvc,
		ledger: ledger,
		passes: passes,
		svc: mirv.NewService(mirv.ServiceConfig{
			Repo:       store.Vouchers(),
			Stock:      ledger,
			GatePasses: passes,
			Numerator:  gen,
			TxManager:  store,
			Audit:      log,
			Clock:      clock,
		}),
		wh: id.New(),
	}
}

func qty(v int64) types.Quantity { return types.NewQuantity(v) }

// receive puts qty of a new item into the warehouse and returns the item.
func (f *fixture) receive(t *testing.T, q int64, cost string) id.ID {
	t.Helper()
	item := id.New()
	c := types.MustMoney(cost)
	_, err := f.stock.AddStock(context.Background(), nil, stock.AddStockRequest{
		ItemID: item, WarehouseID: f.wh, Quantity: qty(q), UnitCost: &c,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) level(t *testing.T, item id.ID) stock.StockLevel {
	t.Helper()
	level, err := f.stock.GetStockLevel(context.Background(), nil, item, f.wh)
	require.NoError(t, err)
	return level
}

type lineSpec struct {
	item id.ID
	qty  int64
}

func (f *fixture) draft(t *testing.T, lines ...lineSpec) *mirv.MIRV {
	t.Helper()
	doc := mirv.NewMIRV(f.wh, "requester")
	for _, l := range lines {
		doc.AddLine(l.item, qty(l.qty))
	}
	require.NoError(t, f.svc.Create(context.Background(), nil, doc))
	return doc
}

func (f *fixture) approved(t *testing.T, lines ...lineSpec) *mirv.MIRV {
	t.Helper()
	ctx := context.Background()
	doc := f.draft(t, lines...)
	_, err := f.svc.Submit(ctx, nil, doc.ID)
	require.NoError(t, err)
	doc, err = f.svc.Approve(ctx, nil, doc.ID, "approver", nil)
	require.NoError(t, err)
	return doc
}

func (f *fixture) signed(t *testing.T, lines ...lineSpec) *mirv.MIRV {
	t.Helper()
	doc := f.approved(t, lines...)
	doc, err := f.svc.SignQC(context.Background(), nil, doc.ID, "qc-inspector")
	require.NoError(t, err)
	return doc
}

func requireBusinessRule(t *testing.T, err error, message string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err), "want business rule error, got %v", err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, message, appErr.Message)
}

// --- lifecycle ---

func TestCreate_AssignsNumberAndDraftStatus(t *testing.T) {
	f := newFixture(t)
	doc := f.draft(t, lineSpec{id.New(), 3})

	assert.Equal(t, "MIRV-2026-00001", doc.Number)
	assert.Equal(t, mirv.StatusDraft, doc.Status)
	assert.Equal(t, mirv.ReservationNone, doc.ReservationStatus)

	stored, err := f.svc.GetByID(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, qty(3), stored.Lines[0].QtyRequested)

	err = f.svc.Create(context.Background(), nil, mirv.NewMIRV(f.wh, "requester"))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "a voucher needs lines")
}

func TestApprove_ReservesEveryLine(t *testing.T) {
	f := newFixture(t)
	a := f.receive(t, 20, "2")
	b := f.receive(t, 10, "1")

	doc := f.approved(t, lineSpec{a, 10}, lineSpec{b, 5})

	assert.Equal(t, mirv.StatusApproved, doc.Status)
	assert.Equal(t, mirv.ReservationReserved, doc.ReservationStatus)
	require.NotNil(t, doc.ApprovedBy)
	assert.Equal(t, "approver", *doc.ApprovedBy)
	assert.Equal(t, qty(10), f.level(t, a).Reserved)
	assert.Equal(t, qty(5), f.level(t, b).Reserved)
}

func TestApprove_ApprovedQuantityLowersTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.receive(t, 20, "2")
	doc := f.draft(t, lineSpec{a, 10})
	_, err := f.svc.Submit(ctx, nil, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, nil, doc.ID, "approver", map[id.ID]types.Quantity{doc.Lines[0].LineID: qty(11)})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "cannot approve more than requested")

	doc, err = f.svc.Approve(ctx, nil, doc.ID, "approver", map[id.ID]types.Quantity{doc.Lines[0].LineID: qty(6)})
	require.NoError(t, err)
	assert.Equal(t, qty(6), doc.Lines[0].Target())
	assert.Equal(t, qty(6), f.level(t, a).Reserved)
}

func TestApprove_IsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plenty := f.receive(t, 20, "1")
	scarce := f.receive(t, 2, "1")

	doc := f.draft(t, lineSpec{plenty, 5}, lineSpec{scarce, 3})
	_, err := f.svc.Submit(ctx, nil, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, nil, doc.ID, "approver", nil)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	assert.Equal(t, qty(0), f.level(t, plenty).Reserved)
	stored, err := f.svc.GetByID(ctx, nil, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, mirv.StatusPendingApproval, stored.Status)
}

func TestSubmit_OnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	doc := f.approved(t, lineSpec{f.receive(t, 5, "1"), 1})

	_, err := f.svc.Submit(context.Background(), nil, doc.ID)
	requireBusinessRule(t, err, "MIRV cannot be submitted from status: approved")
}

// --- QC ---

func TestSignQC_RequiresApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t, lineSpec{id.New(), 1})

	_, err := f.svc.SignQC(ctx, nil, doc.ID, "qc")
	requireBusinessRule(t, err, "MIRV must be approved for QC signature")

	_, err = f.svc.Submit(ctx, nil, doc.ID)
	require.NoError(t, err)
	_, err = f.svc.SignQC(ctx, nil, doc.ID, "qc")
	requireBusinessRule(t, err, "MIRV must be approved for QC signature")
}

func TestIssue_RequiresQCSignatureInEveryStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 50, "1")

	draft := f.draft(t, lineSpec{item, 1})
	_, err := f.svc.Issue(ctx, nil, draft.ID, "storekeeper", nil)
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))

	approved := f.approved(t, lineSpec{item, 1})
	_, err = f.svc.Issue(ctx, nil, approved.ID, "storekeeper", nil)
	requireBusinessRule(t, err, "QC counter-signature is required before issuing materials")

	_, err = f.svc.Issue(ctx, nil, draft.ID, "storekeeper", nil)
	requireBusinessRule(t, err, "MIRV must be approved or partially issued")
}

// --- issuance ---

func TestIssue_FullIssuance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.receive(t, 20, "2")
	b := f.receive(t, 10, "1.5")
	doc := f.signed(t, lineSpec{a, 10}, lineSpec{b, 4})

	result, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.NoError(t, err)

	issued := result.Document
	assert.Equal(t, mirv.StatusIssued, issued.Status)
	assert.Equal(t, mirv.ReservationReleased, issued.ReservationStatus)
	assert.True(t, issued.GatePassAutoCreated)
	assert.True(t, types.MustMoney("26").Equal(result.TotalCost), "10×2 + 4×1.5")

	for _, line := range issued.Lines {
		assert.Equal(t, line.Target(), line.QtyIssued)
		require.NotNil(t, line.UnitCost)
	}
	assert.True(t, types.MustMoney("2").Equal(*issued.Lines[0].UnitCost))
	assert.True(t, types.MustMoney("1.5").Equal(*issued.Lines[1].UnitCost))

	assert.Equal(t, stock.StockLevel{OnHand: qty(10), Reserved: qty(0), Available: qty(10)}, f.level(t, a))
	assert.Equal(t, stock.StockLevel{OnHand: qty(6), Reserved: qty(0), Available: qty(6)}, f.level(t, b))

	require.NotNil(t, result.GatePass)
	assert.Equal(t, gatepass.TypeOutbound, result.GatePass.Type)
	assert.Equal(t, mirv.DefaultDestination, result.GatePass.Destination)
	assert.Len(t, result.GatePass.Lines, 2)

	trail, err := f.stock.ConsumptionsByReference(ctx, nil, entity.RefForMirvLine(issued.Lines[0].LineID))
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, qty(10), trail[0].Quantity)
}

func TestIssue_PartialClampsToRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 30, "1")
	doc := f.signed(t, lineSpec{item, 10})
	lineID := doc.Lines[0].LineID

	result, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", []mirv.PartialItem{{LineID: lineID, Quantity: qty(7)}})
	require.NoError(t, err)
	assert.Equal(t, mirv.StatusPartiallyIssued, result.Document.Status)
	assert.Equal(t, mirv.ReservationReserved, result.Document.ReservationStatus)
	assert.Equal(t, qty(3), f.level(t, item).Reserved, "the remainder stays reserved")

	result, err = f.svc.Issue(ctx, nil, doc.ID, "storekeeper", []mirv.PartialItem{{LineID: lineID, Quantity: qty(8)}})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, qty(3), result.Lines[0].Quantity, "capped at the remaining 3")
	assert.Equal(t, qty(10), result.Document.Lines[0].QtyIssued)
	assert.Equal(t, mirv.StatusIssued, result.Document.Status)
	assert.Equal(t, mirv.ReservationReleased, result.Document.ReservationStatus)
	assert.Equal(t, qty(20), f.level(t, item).OnHand)
}

func TestIssue_GatePassCreatedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 30, "1")
	doc := f.signed(t, lineSpec{item, 9})
	lineID := doc.Lines[0].LineID

	for i := 0; i < 3; i++ {
		result, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", []mirv.PartialItem{{LineID: lineID, Quantity: qty(3)}})
		require.NoError(t, err)
		if i == 0 {
			assert.NotNil(t, result.GatePass)
		} else {
			assert.Nil(t, result.GatePass)
		}
	}

	passes, err := f.passes.ListBySource(ctx, nil, doc.ID)
	require.NoError(t, err)
	assert.Len(t, passes, 1)
}

func TestIssue_UsesLocationOfWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 5, "1")

	doc := mirv.NewMIRV(f.wh, "requester")
	site := "Pump house 3"
	doc.LocationOfWork = &site
	doc.AddLine(item, qty(2))
	require.NoError(t, f.svc.Create(ctx, nil, doc))
	_, err := f.svc.Submit(ctx, nil, doc.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, nil, doc.ID, "approver", nil)
	require.NoError(t, err)
	_, err = f.svc.SignQC(ctx, nil, doc.ID, "qc")
	require.NoError(t, err)

	result, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.NoError(t, err)
	assert.Equal(t, site, result.GatePass.Destination)
}

func TestIssue_NothingRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.signed(t, lineSpec{f.receive(t, 5, "1"), 2})

	_, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", []mirv.PartialItem{{LineID: id.New(), Quantity: qty(1)}})
	requireBusinessRule(t, err, "No items remaining to issue")
}

func TestIssue_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.signed(t, lineSpec{f.receive(t, 10, "1"), 6})
	lineID := doc.Lines[0].LineID

	tests := []struct {
		name    string
		partial []mirv.PartialItem
	}{
		{"zero", []mirv.PartialItem{{LineID: lineID, Quantity: qty(0)}}},
		{"negative repeat", []mirv.PartialItem{{LineID: lineID, Quantity: qty(3)}, {LineID: lineID, Quantity: qty(-5)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", tt.partial)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, lineID.String(), appErr.Details["lineId"])
		})
	}

	stored, err := f.svc.GetByID(ctx, nil, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, qty(0), stored.Lines[0].QtyIssued)
}

func TestIssue_RolledBackScopeLeavesNoAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.signed(t, lineSpec{f.receive(t, 10, "1"), 4})
	before := f.audit.count()

	err := f.store.RunInTransaction(ctx, func(ctx context.Context, uow tx.UnitOfWork) error {
		result, err := f.svc.Issue(ctx, uow, doc.ID, "storekeeper", nil)
		require.NoError(t, err)
		require.NotNil(t, result.GatePass)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, before, f.audit.count(), "consume, gate pass and issue entries are dropped with the scope")

	result, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.NoError(t, err)
	assert.Equal(t, "GP-2026-00002", result.GatePass.Number, "the rolled back pass burned its number")

	var actions []audit.Action
	for _, e := range f.audit.entries[before:] {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []audit.Action{audit.ActionConsume, audit.ActionCreate, audit.ActionIssue}, actions)
}

func TestIssue_LotConflictAbortsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 10, "1")
	doc := f.signed(t, lineSpec{item, 4})

	lots, err := f.stock.ListLots(ctx, nil, item, f.wh, stock.LotFilter{})
	require.NoError(t, err)
	f.store.InjectLotConflict(lots[0].ID)

	_, err = f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrentModification(err))
	assert.True(t, apperror.IsRetryable(err))

	stored, err := f.svc.GetByID(ctx, nil, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, mirv.StatusApproved, stored.Status)
	assert.False(t, stored.GatePassAutoCreated)
	assert.Equal(t, qty(0), stored.Lines[0].QtyIssued)
	assert.Equal(t, stock.StockLevel{OnHand: qty(10), Reserved: qty(4), Available: qty(6)}, f.level(t, item))

	_, err = f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.NoError(t, err, "re-issuing from a fresh read succeeds")
}

// --- cancellation ---

func TestCancel_ReleasesEachLine(t *testing.T) {
	f := newFixture(t)
	a := f.receive(t, 20, "1")
	b := f.receive(t, 20, "1")
	doc := f.approved(t, lineSpec{a, 10}, lineSpec{b, 5})

	result, err := f.svc.Cancel(context.Background(), nil, doc.ID)
	require.NoError(t, err)

	assert.True(t, result.WasReserved)
	assert.Equal(t, mirv.StatusCancelled, result.Document.Status)
	assert.Equal(t, mirv.ReservationReleased, result.Document.ReservationStatus)
	assert.Equal(t, []release{{a, qty(10)}, {b, qty(5)}}, f.ledger.releases)
	assert.Equal(t, qty(0), f.level(t, a).Reserved)
	assert.Equal(t, qty(0), f.level(t, b).Reserved)
}

func TestCancel_PartiallyIssuedReleasesOnlyOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.receive(t, 20, "1")
	doc := f.signed(t, lineSpec{item, 10})

	_, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", []mirv.PartialItem{{LineID: doc.Lines[0].LineID, Quantity: qty(6)}})
	require.NoError(t, err)

	result, err := f.svc.Cancel(ctx, nil, doc.ID)
	require.NoError(t, err)
	assert.True(t, result.WasReserved)
	assert.Equal(t, []release{{item, qty(4)}}, f.ledger.releases)
	assert.Equal(t, stock.StockLevel{OnHand: qty(14), Reserved: qty(0), Available: qty(14)}, f.level(t, item))
}

func TestCancel_Draft(t *testing.T) {
	f := newFixture(t)
	doc := f.draft(t, lineSpec{id.New(), 1})

	result, err := f.svc.Cancel(context.Background(), nil, doc.ID)
	require.NoError(t, err)
	assert.False(t, result.WasReserved)
	assert.Empty(t, f.ledger.releases)
	assert.Equal(t, mirv.StatusCancelled, result.Document.Status)
}

func TestCancel_TerminalStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.signed(t, lineSpec{f.receive(t, 5, "1"), 2})
	_, err := f.svc.Issue(ctx, nil, doc.ID, "storekeeper", nil)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, nil, doc.ID)
	requireBusinessRule(t, err, "MIRV cannot be cancelled from status: issued")

	cancelled := f.draft(t, lineSpec{id.New(), 1})
	_, err = f.svc.Cancel(ctx, nil, cancelled.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, nil, cancelled.ID)
	requireBusinessRule(t, err, "MIRV cannot be cancelled from status: cancelled")
}

func TestGetByID_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetByID(context.Background(), nil, id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestList_FiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, lineSpec{id.New(), 1})
	f.approved(t, lineSpec{f.receive(t, 5, "1"), 1})

	filter := mirv.ListFilter{Statuses: []mirv.Status{mirv.StatusApproved}}
	result, err := f.svc.List(ctx, nil, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.TotalCount)
	require.Len(t, result.Items, 1)
	assert.Equal(t, mirv.StatusApproved, result.Items[0].Status)
}
