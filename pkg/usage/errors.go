package usage

import "errors"

var (
	// ErrQuotaExceeded is returned when a requested or recorded quantity
	// does not fit in the remaining allowance. The accompanying LimitCheck
	// carries the current counters for the caller to render.
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrInvalidQuantity rejects zero or negative usage quantities.
	ErrInvalidQuantity = errors.New("usage quantity must be positive")

	// ErrUnknownLedgerTable guards the table whitelist of the postgres
	// ledger.
	ErrUnknownLedgerTable = errors.New("unknown usage ledger table")
)
