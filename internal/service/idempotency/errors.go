package idempotency

import "errors"

// Sentinel errors for the idempotency ledger.
var (
	ErrInvalidKey      = errors.New("invalid idempotency key")
	ErrNotFound        = errors.New("idempotency record not found")
	ErrRequestInFlight = errors.New("a request with this idempotency key is still being processed")
)
