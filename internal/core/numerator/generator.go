package numerator

import (
	"context"
	"time"
)

// Generator generates sequential document numbers.
// This is the domain contract - the PostgreSQL implementation lives in pkg/numerator.
//
// Numbers are drawn outside the business unit of work: a rolled back
// operation burns its number instead of holding the sequence row locked.
type Generator interface {
	// GetNextNumber generates the next number.
	// Pattern: PREFIX-YEAR-XXXXX (e.g., MIRV-2026-00001)
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber sets the next number value (for migration purposes).
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}
