package ledger

import "errors"

var (
	// ErrDuplicateOperation reports that the idempotency key was already
	// accepted. The submitted operation wrote nothing; the caller should
	// treat the original as applied, not retry with new data.
	ErrDuplicateOperation = errors.New("ledger: duplicate operation")

	// ErrInvalidInput reports a malformed operation (empty entry list, zero
	// amount, bad currency code). Rejected before any transaction work.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrStoreUnavailable reports a transient store failure. The transaction
	// committed nothing, so retrying with the same idempotency key is safe.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)
