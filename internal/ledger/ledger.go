// Package ledger implements the append protocol over an immutable event log
// and the derived balance cache.
//
// The protocol runs entirely inside one store transaction: insert the
// idempotency record first, take per-account advisory locks in sorted order,
// then assign each entry the next dense sequence number for its account and
// fold its amount into the cached balance. The engine holds no in-process
// locks of its own; all mutual exclusion is delegated to the store's
// transaction-scoped advisory locks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finvault/ledger/internal/events"
	"github.com/finvault/ledger/internal/models"
	eventmodels "github.com/finvault/ledger/internal/models/events"
	"github.com/finvault/ledger/internal/storage"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Ledger is the append engine and query service over one transactional store.
// Safe for concurrent use: every AppendOperation call owns its own transaction
// from begin to commit or rollback.
type Ledger struct {
	store     storage.Store
	publisher events.Publisher
	logger    *zap.Logger
}

func New(store storage.Store, publisher events.Publisher, logger *zap.Logger) *Ledger {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, publisher: publisher, logger: logger}
}

// AppendOperation atomically appends one operation's entries to the log and
// returns the generated operation id. Entries are written in input order;
// each receives its account's next sequence number. Either every entry
// commits or none does.
//
// Errors are one of ErrInvalidInput, ErrDuplicateOperation and
// ErrStoreUnavailable; see their docs for retry semantics.
func (l *Ledger) AppendOperation(ctx context.Context, entries []models.EntryInput, idempotencyKey string) (string, error) {
	if err := validate(entries, idempotencyKey); err != nil {
		return "", err
	}

	operationID := uuid.New().String()
	now := time.Now().UTC()

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return "", classifyStore(err)
	}
	// No-op after a successful commit; on every other path it aborts the
	// transaction and releases the advisory locks.
	defer tx.Rollback()

	// Idempotency first: a duplicate submission must fail before any lock is
	// taken or any entry is written.
	op := models.Operation{ID: operationID, IdempotencyKey: idempotencyKey, CreatedAt: now}
	if err := tx.InsertOperation(ctx, op); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return "", fmt.Errorf("%w: idempotency key %q", ErrDuplicateOperation, idempotencyKey)
		}
		return "", classifyStore(err)
	}

	// Sorted acquisition is the deadlock-avoidance mechanism: every
	// operation touching the same accounts locks them in the same global
	// order regardless of entry order.
	for _, accountID := range sortedAccounts(entries) {
		if err := tx.AcquireAccountLock(ctx, accountID); err != nil {
			return "", classifyStore(err)
		}
	}

	for _, in := range entries {
		max, err := tx.MaxSequence(ctx, in.AccountID)
		if err != nil {
			return "", classifyStore(err)
		}
		entry := models.LedgerEntry{
			ID:             uuid.New().String(),
			OperationID:    operationID,
			AccountID:      in.AccountID,
			SequenceNumber: max + 1,
			AmountCents:    in.AmountCents,
			Currency:       in.Currency,
			EventType:      in.EventType,
			OccurredAt:     now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return "", classifyStore(err)
		}
		if err := tx.UpsertBalance(ctx, in.AccountID, in.AmountCents, now); err != nil {
			return "", classifyStore(err)
		}
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return "", fmt.Errorf("%w: idempotency key %q", ErrDuplicateOperation, idempotencyKey)
		}
		return "", classifyStore(err)
	}

	// Post-commit notification is best-effort: the log already holds the
	// truth, so a publish failure must not fail the append.
	event := eventmodels.OperationCommitted{OperationID: operationID, Entries: entries, OccurredAt: now}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Warn("failed to publish operation event",
			zap.String("operation_id", operationID), zap.Error(err))
	}

	return operationID, nil
}

// GetBalance returns the account's cached balance in cents. An account with
// no entries resolves to 0, never an error.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	balance, err := l.store.GetBalance(ctx, accountID)
	if err != nil {
		return 0, classifyStore(err)
	}
	return balance, nil
}

// GetEntries returns a page of the account's entries ascending by sequence
// number.
func (l *Ledger) GetEntries(ctx context.Context, accountID string, limit, offset int64) ([]models.LedgerEntry, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	entries, err := l.store.GetEntries(ctx, accountID, limit, offset)
	if err != nil {
		return nil, classifyStore(err)
	}
	return entries, nil
}

// RebuildBalances recomputes the whole balance cache from the entry log. The
// cache is a projection: corruption or loss is repaired here, never by
// touching the log itself. Concurrent rebuilds serialize against each other.
func (l *Ledger) RebuildBalances(ctx context.Context) error {
	if err := l.store.RebuildBalances(ctx); err != nil {
		return classifyStore(err)
	}
	return nil
}

func validate(entries []models.EntryInput, idempotencyKey string) error {
	if idempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: operation has no entries", ErrInvalidInput)
	}
	for i, e := range entries {
		if e.AccountID == "" {
			return fmt.Errorf("%w: entry %d has no account id", ErrInvalidInput, i)
		}
		if e.AmountCents == 0 {
			return fmt.Errorf("%w: entry %d has zero amount", ErrInvalidInput, i)
		}
		if !currencyPattern.MatchString(e.Currency) {
			return fmt.Errorf("%w: entry %d has malformed currency %q", ErrInvalidInput, i, e.Currency)
		}
	}
	return nil
}

// sortedAccounts returns the distinct account ids referenced by the entries,
// in lexicographic order.
func sortedAccounts(entries []models.EntryInput) []string {
	seen := make(map[string]struct{}, len(entries))
	accounts := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		accounts = append(accounts, e.AccountID)
	}
	sort.Strings(accounts)
	return accounts
}

// classifyStore folds any unclassified store failure into
// ErrStoreUnavailable: the transaction aborted, nothing committed, and a
// retry with the same idempotency key is safe.
func classifyStore(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
