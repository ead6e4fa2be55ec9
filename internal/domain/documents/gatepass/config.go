package gatepass

import "stockledger/internal/core/numerator"

const (
	// NumeratorPrefix is the number prefix of gate passes (GP-2026-00001).
	NumeratorPrefix = "GP"

	// NumeratorStrategy defines the numbering strategy for this document type.
	// Gate passes are checked by number at the gate, so we use Strict strategy.
	NumeratorStrategy = numerator.StrategyStrict
)
