// Package tx provides transaction management abstractions.
// This package defines interfaces that decouple domain logic from specific
// database implementations, following the Dependency Inversion Principle.
//
// The active transaction is passed around explicitly as a UnitOfWork handle
// instead of being hidden in context: every ledger operation either receives
// the caller's handle or opens its own.
package tx

import (
	"context"
)

// UnitOfWork is an open atomic scope. All reads and writes performed with the
// same handle commit or roll back together.
//
// Repositories type-assert the handle to their own implementation; domain code
// only passes it along.
type UnitOfWork interface {
	// ID identifies the scope in logs and traces.
	ID() string
}

// Manager defines the contract for transaction management.
// Implementations handle BEGIN, COMMIT and ROLLBACK.
//
// Domain services depend on this interface, not concrete implementations.
// The actual implementations live in infrastructure/storage.
type Manager interface {
	// RunInTransaction executes fn within a new unit of work.
	// If fn returns an error, the unit of work is rolled back.
	// If fn succeeds, it is committed.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Within runs fn inside uow when the caller already holds one, otherwise it
// opens a fresh unit of work through m. This is how an operation joins the
// caller's atomic scope.
func Within(ctx context.Context, m Manager, uow UnitOfWork, fn func(ctx context.Context, uow UnitOfWork) error) error {
	if uow != nil {
		return fn(ctx, uow)
	}
	return m.RunInTransaction(ctx, fn)
}

// Isolator is implemented by units of work that can undo a failed nested
// step without aborting the rest of the scope (savepoints).
type Isolator interface {
	Isolate(ctx context.Context, fn func(ctx context.Context) error) error
}

// Isolated runs fn inside a nested scope of uow when the implementation
// supports it. Best-effort side steps (alerts, audit, cache signals) go
// through here so that their failure cannot poison the caller's writes.
func Isolated(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context) error) error {
	if iso, ok := uow.(Isolator); ok {
		return iso.Isolate(ctx, fn)
	}
	return fn(ctx)
}

// CommitHooks is implemented by units of work that can defer side effects
// until the outermost scope commits. Hooks registered inside a failed
// Isolate step are discarded with that step.
type CommitHooks interface {
	AfterCommit(fn func(ctx context.Context))
}

// AfterCommit schedules fn to run once uow commits; a rollback drops it.
// Units of work without hook support, and a nil uow, run fn immediately.
func AfterCommit(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context)) {
	if h, ok := uow.(CommitHooks); ok {
		h.AfterCommit(fn)
		return
	}
	fn(ctx)
}

// Hooks is an embeddable CommitHooks implementation for units of work.
type Hooks struct {
	fns []func(ctx context.Context)
}

// AfterCommit implements CommitHooks.
func (h *Hooks) AfterCommit(fn func(ctx context.Context)) {
	h.fns = append(h.fns, fn)
}

// Mark returns the current hook count, for Truncate after a failed step.
func (h *Hooks) Mark() int { return len(h.fns) }

// Truncate drops the hooks registered after mark.
func (h *Hooks) Truncate(mark int) {
	if mark < len(h.fns) {
		h.fns = h.fns[:mark]
	}
}

// Run calls the hooks in registration order and clears them.
func (h *Hooks) Run(ctx context.Context) {
	fns := h.fns
	h.fns = nil
	for _, fn := range fns {
		fn(ctx)
	}
}
