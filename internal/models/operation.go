package models

import "time"

// Operation is the idempotency record for one business operation. Its
// idempotency key is globally unique; a second submission with the same key
// must fail before any entries are written.
type Operation struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}
