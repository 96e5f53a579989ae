package models

import "time"

// AccountBalance is the materialized sum of an account's entries. It is a
// cache, not a source of truth: it can be deleted and rebuilt from the log at
// any time.
type AccountBalance struct {
	AccountID    string    `json:"account_id"`
	BalanceCents int64     `json:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at"`
}
