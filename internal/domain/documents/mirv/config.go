package mirv

import "stockledger/internal/core/numerator"

const (
	// NumeratorPrefix is the number prefix of vouchers (MIRV-2026-00001).
	NumeratorPrefix = "MIRV"

	// NumeratorStrategy defines the numbering strategy for this document type.
	// MIRV is a primary accounting document, so we use Strict strategy.
	NumeratorStrategy = numerator.StrategyStrict

	// DefaultDestination is the gate pass destination of vouchers without a
	// location of work.
	DefaultDestination = "Work Site"

	// DocumentType names vouchers on gate passes and in the consumption log.
	DocumentType = "MIRV"
)
