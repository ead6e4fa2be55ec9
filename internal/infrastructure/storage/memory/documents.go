package memory

import (
	"context"
	"slices"
	"strings"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain"
	"stockledger/internal/domain/documents/gatepass"
	"stockledger/internal/domain/documents/mirv"
)

var (
	_ mirv.Repository     = (*VoucherRepo)(nil)
	_ gatepass.Repository = (*GatePassRepo)(nil)
)

// VoucherRepo implements mirv.Repository.
type VoucherRepo struct {
	s *Store
}

// Create implements mirv.Repository.
func (r *VoucherRepo) Create(ctx context.Context, uow tx.UnitOfWork, doc *mirv.MIRV) error {
	return r.s.write(uow, func(d *state) error {
		if _, ok := d.vouchers[doc.ID]; ok {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "document already exists").
				WithDetail("id", doc.ID.String())
		}
		header := *doc
		header.Lines = nil
		d.vouchers[doc.ID] = header
		return nil
	})
}

// GetByID implements mirv.Repository.
func (r *VoucherRepo) GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*mirv.MIRV, error) {
	var (
		doc mirv.MIRV
		ok  bool
	)
	r.s.read(func(d *state) { doc, ok = d.vouchers[docID] })
	if !ok {
		return nil, apperror.NewNotFound("mirv", docID.String())
	}
	return &doc, nil
}

// Update implements mirv.Repository.
func (r *VoucherRepo) Update(ctx context.Context, uow tx.UnitOfWork, doc *mirv.MIRV) error {
	return r.s.write(uow, func(d *state) error {
		stored, ok := d.vouchers[doc.ID]
		if !ok {
			return apperror.NewNotFound("mirv", doc.ID.String())
		}
		if stored.Version != doc.Version {
			return apperror.NewConcurrentModification("mirv", doc.ID.String())
		}
		doc.Version++
		header := *doc
		header.Lines = nil
		d.vouchers[doc.ID] = header
		return nil
	})
}

// GetLines implements mirv.Repository.
func (r *VoucherRepo) GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]mirv.Line, error) {
	var lines []mirv.Line
	r.s.read(func(d *state) { lines = slices.Clone(d.voucherLines[docID]) })
	return lines, nil
}

// SaveLines implements mirv.Repository.
func (r *VoucherRepo) SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []mirv.Line) error {
	return r.s.write(uow, func(d *state) error {
		d.voucherLines[docID] = slices.Clone(lines)
		return nil
	})
}

// List implements mirv.Repository.
func (r *VoucherRepo) List(ctx context.Context, uow tx.UnitOfWork, filter mirv.ListFilter) (domain.ListResult[*mirv.MIRV], error) {
	var items []*mirv.MIRV
	r.s.read(func(d *state) {
		for _, doc := range d.vouchers {
			doc := doc // per-iteration copy; go.mod targets go1.21 loop semantics
			if matchVoucher(doc, filter) {
				items = append(items, &doc)
			}
		}
	})

	desc := strings.HasPrefix(filter.OrderBy, "-")
	slices.SortFunc(items, func(a, b *mirv.MIRV) int {
		c := a.Date.Compare(b.Date)
		if c == 0 {
			c = strings.Compare(a.Number, b.Number)
		}
		if desc {
			return -c
		}
		return c
	})

	result := domain.ListResult[*mirv.MIRV]{
		TotalCount: int64(len(items)),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if filter.Offset < len(items) {
		items = items[filter.Offset:]
	} else {
		items = nil
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	result.Items = items
	return result, nil
}

func matchVoucher(doc mirv.MIRV, f mirv.ListFilter) bool {
	if f.WarehouseID != nil && doc.WarehouseID != *f.WarehouseID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, doc.Status) {
		return false
	}
	if f.DateFrom != nil && doc.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && doc.Date.After(*f.DateTo) {
		return false
	}
	return true
}

// GatePassRepo implements gatepass.Repository.
type GatePassRepo struct {
	s *Store
}

// Create implements gatepass.Repository.
func (r *GatePassRepo) Create(ctx context.Context, uow tx.UnitOfWork, doc *gatepass.GatePass) error {
	return r.s.write(uow, func(d *state) error {
		if _, ok := d.gatePasses[doc.ID]; ok {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "document already exists").
				WithDetail("id", doc.ID.String())
		}
		header := *doc
		header.Lines = nil
		d.gatePasses[doc.ID] = header
		return nil
	})
}

// GetByID implements gatepass.Repository.
func (r *GatePassRepo) GetByID(ctx context.Context, uow tx.UnitOfWork, docID id.ID) (*gatepass.GatePass, error) {
	var (
		doc gatepass.GatePass
		ok  bool
	)
	r.s.read(func(d *state) { doc, ok = d.gatePasses[docID] })
	if !ok {
		return nil, apperror.NewNotFound("gate_pass", docID.String())
	}
	return &doc, nil
}

// GetLines implements gatepass.Repository.
func (r *GatePassRepo) GetLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID) ([]gatepass.Line, error) {
	var lines []gatepass.Line
	r.s.read(func(d *state) { lines = slices.Clone(d.passLines[docID]) })
	return lines, nil
}

// SaveLines implements gatepass.Repository.
func (r *GatePassRepo) SaveLines(ctx context.Context, uow tx.UnitOfWork, docID id.ID, lines []gatepass.Line) error {
	return r.s.write(uow, func(d *state) error {
		d.passLines[docID] = slices.Clone(lines)
		return nil
	})
}

// ListBySource implements gatepass.Repository.
func (r *GatePassRepo) ListBySource(ctx context.Context, uow tx.UnitOfWork, sourceID id.ID) ([]*gatepass.GatePass, error) {
	var out []*gatepass.GatePass
	r.s.read(func(d *state) {
		for _, doc := range d.gatePasses {
			doc := doc // per-iteration copy; go.mod targets go1.21 loop semantics
			if doc.SourceDocumentID != nil && *doc.SourceDocumentID == sourceID {
				out = append(out, &doc)
			}
		}
	})
	slices.SortFunc(out, func(a, b *gatepass.GatePass) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Number, b.Number)
	})
	return out, nil
}
