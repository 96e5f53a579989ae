// Package storage defines the transactional store contract the append engine
// runs against, plus the storage-level error classification shared by all
// implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/finvault/ledger/internal/models"
)

var (
	// ErrDuplicateKey reports a uniqueness-constraint violation, such as an
	// idempotency key that already exists.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrUnavailable reports a transient store failure: lost connection,
	// serialization failure, or a deadlock broken by the store. The enclosing
	// transaction committed nothing and the caller may retry.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Store provides transaction scoping for writes and consistent reads for the
// query service. Implementations must be safe for concurrent use; each
// transaction owns its own session and is never shared across callers.
type Store interface {
	// Begin opens a new transaction. The caller must end it with exactly one
	// Commit or Rollback; any advisory locks acquired inside it are released
	// at that point on every path.
	Begin(ctx context.Context) (Tx, error)

	// GetBalance returns the cached balance for an account. A missing cache
	// row is not an error: it returns 0.
	GetBalance(ctx context.Context, accountID string) (int64, error)

	// GetEntries returns an account's entries ascending by sequence number.
	GetEntries(ctx context.Context, accountID string, limit, offset int64) ([]models.LedgerEntry, error)

	// RebuildBalances replaces the whole balance cache with sums recomputed
	// from the entry log. Concurrent rebuilds are serialized against each
	// other.
	RebuildBalances(ctx context.Context) error
}

// Tx is one in-flight append transaction. Writes staged in a Tx become
// visible to other callers only after Commit; Rollback discards them all.
type Tx interface {
	// InsertOperation records the idempotency row. Reuse of an idempotency
	// key fails with ErrDuplicateKey.
	InsertOperation(ctx context.Context, op models.Operation) error

	// AcquireAccountLock takes the exclusive advisory lock for one account.
	// The lock is scoped to this transaction and released automatically at
	// Commit or Rollback; there is no unlock call.
	AcquireAccountLock(ctx context.Context, accountID string) error

	// MaxSequence returns the highest sequence number recorded for the
	// account, including entries staged in this transaction, or 0 if none.
	MaxSequence(ctx context.Context, accountID string) (int64, error)

	InsertEntry(ctx context.Context, entry models.LedgerEntry) error

	// UpsertBalance adds deltaCents to the account's cached balance,
	// creating the row if absent.
	UpsertBalance(ctx context.Context, accountID string, deltaCents int64, at time.Time) error

	Commit() error
	Rollback() error
}
