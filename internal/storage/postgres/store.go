// Package postgres implements storage.Store on PostgreSQL via lib/pq.
//
// The append protocol leans on three Postgres capabilities: transaction
// scoping, unique constraints surfaced as distinguishable errors, and
// pg_advisory_xact_lock, whose locks vanish at transaction end on both the
// commit and rollback paths.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/finvault/ledger/internal/models"
	"github.com/finvault/ledger/internal/storage"
)

// rebuildLockKey serializes RebuildBalances against itself. Account locks use
// hashtext over the account id; this constant lives outside that keyspace's
// intended use and collisions with it only over-serialize, never corrupt.
const rebuildLockKey = 815114711

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &tx{tx: dbTx}, nil
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	const query = `SELECT balance_cents FROM account_balances WHERE account_id = $1`

	var cents int64
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}
	return cents, nil
}

func (s *Store) GetEntries(ctx context.Context, accountID string, limit, offset int64) ([]models.LedgerEntry, error) {
	const query = `SELECT id, operation_id, account_id, sequence_number, amount_cents, currency, event_type, occurred_at
	FROM ledger_entries
	WHERE account_id = $1
	ORDER BY sequence_number ASC
	LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OperationID, &e.AccountID, &e.SequenceNumber,
			&e.AmountCents, &e.Currency, &e.EventType, &e.OccurredAt); err != nil {
			return nil, classify(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// RebuildBalances recomputes every balance as a fold over the entry log and
// swaps the cache wholesale, inside one transaction. Live appends keep their
// per-account locks; the rebuild transaction sees a consistent snapshot of
// committed entries, so the result equals the live-maintained value once
// traffic quiesces.
func (s *Store) RebuildBalances(ctx context.Context) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, rebuildLockKey); err != nil {
		return classify(err)
	}
	if _, err := dbTx.ExecContext(ctx, `DELETE FROM account_balances`); err != nil {
		return classify(err)
	}
	const refill = `INSERT INTO account_balances (account_id, balance_cents, updated_at)
	SELECT account_id, SUM(amount_cents), now()
	FROM ledger_entries
	GROUP BY account_id`
	if _, err := dbTx.ExecContext(ctx, refill); err != nil {
		return classify(err)
	}
	if err := dbTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type tx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) InsertOperation(ctx context.Context, op models.Operation) error {
	const query = `INSERT INTO operations (id, idempotency_key, created_at)
	VALUES ($1, $2, $3)`

	if _, err := t.tx.ExecContext(ctx, query, op.ID, op.IdempotencyKey, op.CreatedAt); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) AcquireAccountLock(ctx context.Context, accountID string) error {
	// hashtext maps the text id into the bigint advisory-lock keyspace. A
	// collision between two accounts serializes them needlessly but cannot
	// break sequence assignment.
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`

	if _, err := t.tx.ExecContext(ctx, query, accountID); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) MaxSequence(ctx context.Context, accountID string) (int64, error) {
	const query = `SELECT COALESCE(MAX(sequence_number), 0) FROM ledger_entries WHERE account_id = $1`

	var max int64
	if err := t.tx.QueryRowContext(ctx, query, accountID).Scan(&max); err != nil {
		return 0, classify(err)
	}
	return max, nil
}

func (t *tx) InsertEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, operation_id, account_id, sequence_number, amount_cents, currency, event_type, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := t.tx.ExecContext(ctx, query, e.ID, e.OperationID, e.AccountID,
		e.SequenceNumber, e.AmountCents, e.Currency, e.EventType, e.OccurredAt); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) UpsertBalance(ctx context.Context, accountID string, deltaCents int64, at time.Time) error {
	const query = `INSERT INTO account_balances (account_id, balance_cents, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (account_id) DO UPDATE
	SET balance_cents = account_balances.balance_cents + EXCLUDED.balance_cents,
	    updated_at = EXCLUDED.updated_at`

	if _, err := t.tx.ExecContext(ctx, query, accountID, deltaCents, at); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the storage sentinels. Unique violations
// become ErrDuplicateKey; serialization failures, broken deadlocks and
// connection-class errors become ErrUnavailable so callers know a retry with
// the same idempotency key is safe.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505": // unique_violation
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, pqErr.Constraint)
		case pqErr.Code == "40001" || pqErr.Code == "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", storage.ErrUnavailable, pqErr.Message)
		case pqErr.Code.Class() == "08": // connection exceptions
			return fmt.Errorf("%w: %s", storage.ErrUnavailable, pqErr.Message)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}
