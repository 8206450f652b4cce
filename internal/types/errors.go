package types

import "errors"

// Ledger error taxonomy. Services return these sentinels (possibly wrapped)
// and the response package maps them to HTTP status codes.
var (
	ErrValidation                = errors.New("validation failed")
	ErrNotAuthorized             = errors.New("caller not authorized for this seller or order")
	ErrNotFound                  = errors.New("record not found")
	ErrDuplicateHold             = errors.New("escrow hold already exists for this order and seller")
	ErrInsufficientEscrowBalance = errors.New("requested amount exceeds remaining escrow balance")
	ErrNoApplicableRule          = errors.New("no applicable commission rule configured")
	ErrAlreadySettled            = errors.New("period already settled for this seller")
	ErrConcurrencyConflict       = errors.New("concurrent update conflict on ledger row")
	ErrEntryDisbursed            = errors.New("escrow entry already disbursed, refund requires clawback")

	// Provider errors: transient ones are retried with backoff, permanent
	// ones surface immediately as a Failed record.
	ErrProviderTransient = errors.New("payment provider temporarily unavailable")
	ErrProviderPermanent = errors.New("payment provider rejected the request")
)
