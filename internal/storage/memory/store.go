// Package memory implements storage.Store in process memory. It backs tests
// and the no-database dev mode, and mirrors the transactional semantics the
// append engine needs from Postgres: staged writes invisible until commit,
// idempotency-key uniqueness, and per-account locks released at transaction
// end.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finvault/ledger/internal/models"
	"github.com/finvault/ledger/internal/storage"
)

type Store struct {
	// mu guards the committed maps and the lock map itself; per-account
	// mutexes are held across transactions, mu only briefly.
	mu           sync.Mutex
	operations   map[string]models.Operation     // keyed by idempotency key
	entries      map[string][]models.LedgerEntry // per account, ascending by sequence
	balances     map[string]models.AccountBalance
	accountLocks map[string]*sync.Mutex

	rebuildMu sync.Mutex // serializes RebuildBalances against itself
}

func NewStore() *Store {
	return &Store{
		operations:   make(map[string]models.Operation),
		entries:      make(map[string][]models.LedgerEntry),
		balances:     make(map[string]models.AccountBalance),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &tx{
		store:  s,
		deltas: make(map[string]int64),
		held:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[accountID]
	if !ok {
		return 0, nil
	}
	return b.BalanceCents, nil
}

func (s *Store) GetEntries(ctx context.Context, accountID string, limit, offset int64) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[accountID]
	if offset >= int64(len(all)) {
		return nil, nil
	}
	page := all[offset:]
	if limit < int64(len(page)) {
		page = page[:limit]
	}

	copied := make([]models.LedgerEntry, len(page))
	copy(copied, page)
	return copied, nil
}

func (s *Store) RebuildBalances(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rebuilt := make(map[string]models.AccountBalance, len(s.entries))
	for accountID, entries := range s.entries {
		var sum int64
		for _, e := range entries {
			sum += e.AmountCents
		}
		rebuilt[accountID] = models.AccountBalance{
			AccountID:    accountID,
			BalanceCents: sum,
			UpdatedAt:    now,
		}
	}
	s.balances = rebuilt
	return nil
}

// lockFor returns the lazily created mutex for an account.
func (s *Store) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountLocks[accountID]; !ok {
		s.accountLocks[accountID] = &sync.Mutex{}
	}
	return s.accountLocks[accountID]
}

// tx stages writes until Commit and holds account locks until the
// transaction ends on either path.
type tx struct {
	store  *Store
	done   bool
	op     *models.Operation
	staged []models.LedgerEntry
	deltas map[string]int64
	at     map[string]time.Time
	held   map[string]*sync.Mutex
}

var _ storage.Tx = (*tx)(nil)

var errTxDone = errors.New("memory: transaction already ended")

func (t *tx) InsertOperation(ctx context.Context, op models.Operation) error {
	if t.done {
		return errTxDone
	}

	t.store.mu.Lock()
	_, exists := t.store.operations[op.IdempotencyKey]
	t.store.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: idempotency key %q", storage.ErrDuplicateKey, op.IdempotencyKey)
	}

	t.op = &op
	return nil
}

func (t *tx) AcquireAccountLock(ctx context.Context, accountID string) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.held[accountID]; ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	mu := t.store.lockFor(accountID)
	mu.Lock()
	t.held[accountID] = mu
	return nil
}

func (t *tx) MaxSequence(ctx context.Context, accountID string) (int64, error) {
	if t.done {
		return 0, errTxDone
	}

	t.store.mu.Lock()
	var max int64
	if committed := t.store.entries[accountID]; len(committed) > 0 {
		max = committed[len(committed)-1].SequenceNumber
	}
	t.store.mu.Unlock()

	// The transaction sees its own staged entries, like a SQL tx sees its
	// own uncommitted writes.
	for _, e := range t.staged {
		if e.AccountID == accountID && e.SequenceNumber > max {
			max = e.SequenceNumber
		}
	}
	return max, nil
}

func (t *tx) InsertEntry(ctx context.Context, e models.LedgerEntry) error {
	if t.done {
		return errTxDone
	}
	t.staged = append(t.staged, e)
	return nil
}

func (t *tx) UpsertBalance(ctx context.Context, accountID string, deltaCents int64, at time.Time) error {
	if t.done {
		return errTxDone
	}
	if t.at == nil {
		t.at = make(map[string]time.Time)
	}
	t.deltas[accountID] += deltaCents
	t.at[accountID] = at
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errTxDone
	}
	defer t.end()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// Re-check uniqueness under the store lock: two transactions carrying
	// the same idempotency key can both pass the insert-time check, and the
	// second to commit must fail with nothing applied.
	if t.op != nil {
		if _, exists := t.store.operations[t.op.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %q", storage.ErrDuplicateKey, t.op.IdempotencyKey)
		}
	}
	for _, e := range t.staged {
		if committed := t.store.entries[e.AccountID]; len(committed) > 0 &&
			committed[len(committed)-1].SequenceNumber >= e.SequenceNumber {
			return fmt.Errorf("%w: sequence %d for account %q", storage.ErrDuplicateKey, e.SequenceNumber, e.AccountID)
		}
	}

	if t.op != nil {
		t.store.operations[t.op.IdempotencyKey] = *t.op
	}
	for _, e := range t.staged {
		t.store.entries[e.AccountID] = append(t.store.entries[e.AccountID], e)
	}
	for accountID, delta := range t.deltas {
		b := t.store.balances[accountID]
		b.AccountID = accountID
		b.BalanceCents += delta
		b.UpdatedAt = t.at[accountID]
		t.store.balances[accountID] = b
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.end()
	return nil
}

// end releases every held account lock and marks the transaction finished.
// Runs on both the commit and rollback paths.
func (t *tx) end() {
	t.done = true
	for _, mu := range t.held {
		mu.Unlock()
	}
	t.held = nil
}
