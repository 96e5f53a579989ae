// Package events defines the outbound notification contract for committed
// operations.
package events

import "context"

// Publisher delivers post-commit notifications. Implementations may be
// best-effort; the ledger never depends on delivery for correctness.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event any) error { return nil }
