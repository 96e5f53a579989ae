package models

import "time"

// LedgerEntry is one immutable fact about one account. Entries are append-only:
// once committed they are never updated or deleted.
type LedgerEntry struct {
	ID             string    `json:"id"`
	OperationID    string    `json:"operation_id"`
	AccountID      string    `json:"account_id"`
	SequenceNumber int64     `json:"sequence_number"` // per-account, starts at 1, no gaps
	AmountCents    int64     `json:"amount_cents"`    // signed, never zero
	Currency       string    `json:"currency"`        // 3-letter uppercase code
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EntryInput is the caller-supplied part of an entry. Identifiers, sequence
// numbers and timestamps are assigned by the append engine at write time.
type EntryInput struct {
	AccountID   string `json:"account_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	EventType   string `json:"event_type"`
}
