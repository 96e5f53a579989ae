package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvault/ledger/internal/models"
	"github.com/finvault/ledger/internal/storage"
)

func entry(account string, seq, cents int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:             account + "-" + time.Now().Format("150405.000000000"),
		OperationID:    "op-" + account,
		AccountID:      account,
		SequenceNumber: seq,
		AmountCents:    cents,
		Currency:       "USD",
		EventType:      "test",
		OccurredAt:     time.Now().UTC(),
	}
}

func TestTx_StagedWritesInvisibleUntilCommit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", 1, 500)))
	require.NoError(t, tx.UpsertBalance(ctx, "acct-a", 500, time.Now()))

	bal, err := s.GetBalance(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal, "uncommitted writes must not be observable")

	entries, err := s.GetEntries(ctx, "acct-a", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, tx.Commit())

	bal, err = s.GetBalance(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	entries, err = s.GetEntries(ctx, "acct-a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTx_RollbackDiscardsAndReleasesLocks(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AcquireAccountLock(ctx, "acct-a"))
	require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", 1, 500)))
	require.NoError(t, tx.Rollback())

	entries, err := s.GetEntries(ctx, "acct-a", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The account lock must be free again.
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- tx2.AcquireAccountLock(ctx, "acct-a") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("account lock was not released on rollback")
	}
	require.NoError(t, tx2.Rollback())
}

func TestTx_CommitReleasesLocks(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AcquireAccountLock(ctx, "acct-a"))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- tx2.AcquireAccountLock(ctx, "acct-a") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("account lock was not released on commit")
	}
	require.NoError(t, tx2.Rollback())
}

func TestTx_DuplicateKeyAtInsert(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	op := models.Operation{ID: "op-1", IdempotencyKey: "key-1", CreatedAt: time.Now()}
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertOperation(ctx, op))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx2.InsertOperation(ctx, models.Operation{ID: "op-2", IdempotencyKey: "key-1", CreatedAt: time.Now()})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
	require.NoError(t, tx2.Rollback())
}

func TestTx_DuplicateKeyAtCommit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	// Both transactions pass the insert-time check, then race to commit.
	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx1.InsertOperation(ctx, models.Operation{ID: "op-1", IdempotencyKey: "key-1"}))
	require.NoError(t, tx2.InsertOperation(ctx, models.Operation{ID: "op-2", IdempotencyKey: "key-1"}))

	require.NoError(t, tx1.Commit())
	err = tx2.Commit()
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTx_MaxSequenceSeesStagedEntries(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	max, err := tx.MaxSequence(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", 1, 500)))

	max, err = tx.MaxSequence(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), max, "a transaction sees its own staged entries")

	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	max, err = tx2.MaxSequence(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)
	require.NoError(t, tx2.Rollback())
}

func TestStore_RebuildAfterCacheLoss(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", 1, 500)))
	require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", 2, -200)))
	require.NoError(t, tx.InsertEntry(ctx, entry("acct-b", 1, 700)))
	require.NoError(t, tx.UpsertBalance(ctx, "acct-a", 300, time.Now()))
	require.NoError(t, tx.UpsertBalance(ctx, "acct-b", 700, time.Now()))
	require.NoError(t, tx.Commit())

	// Drop the whole cache, then rebuild it from the log.
	s.mu.Lock()
	s.balances = make(map[string]models.AccountBalance)
	s.mu.Unlock()

	bal, err := s.GetBalance(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	require.NoError(t, s.RebuildBalances(ctx))

	bal, err = s.GetBalance(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)

	bal, err = s.GetBalance(ctx, "acct-b")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal)
}

func TestStore_GetEntriesPagination(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tx.InsertEntry(ctx, entry("acct-a", i, 100)))
	}
	require.NoError(t, tx.Commit())

	page, err := s.GetEntries(ctx, "acct-a", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].SequenceNumber)
	assert.Equal(t, int64(3), page[1].SequenceNumber)

	page, err = s.GetEntries(ctx, "acct-a", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = s.GetEntries(ctx, "acct-a", 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}
