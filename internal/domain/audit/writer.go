// Package audit defines the best-effort audit trail written by ledger operations.
package audit

import (
	"context"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/tx"
	"stockledger/pkg/logger"
)

// Action represents the type of audited operation.
type Action string

const (
	ActionAddStock Action = "add_stock"
	ActionReserve  Action = "reserve"
	ActionRelease  Action = "release"
	ActionConsume  Action = "consume"
	ActionDeduct   Action = "deduct"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionIssue    Action = "issue"
	ActionCancel   Action = "cancel"
)

// Entry is one audit record.
type Entry struct {
	EntityType string
	EntityID   string
	Action     Action
	UserID     string
	Changes    map[string]any
}

// Writer persists audit entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Record writes entry through w without ever failing the caller.
// A nil writer is a no-op. The user is taken from ctx when not set.
func Record(ctx context.Context, w Writer, entry Entry) {
	if w == nil {
		return
	}
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	if err := w.Write(ctx, entry); err != nil {
		logger.Warn(ctx, "audit write failed",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// RecordOnCommit records entry once uow commits. Entries of a rolled back
// unit of work, or of a failed isolated step, are never written.
func RecordOnCommit(ctx context.Context, uow tx.UnitOfWork, w Writer, entry Entry) {
	if w == nil {
		return
	}
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	tx.AfterCommit(ctx, uow, func(ctx context.Context) {
		Record(ctx, w, entry)
	})
}

// EnrichCreatedBy sets CreatedBy and UpdatedBy fields from context user ID.
// If userID is not in context, this is a no-op.
func EnrichCreatedBy(ctx context.Context, entity interface {
	SetCreatedBy(string)
	SetUpdatedBy(string)
}) {
	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return
	}
	entity.SetCreatedBy(userID)
	entity.SetUpdatedBy(userID)
}

// EnrichUpdatedBy sets only UpdatedBy field from context user ID.
func EnrichUpdatedBy(ctx context.Context, entity interface{ SetUpdatedBy(string) }) {
	if userID := appctx.GetUserID(ctx); userID != "" {
		entity.SetUpdatedBy(userID)
	}
}
