package events

import (
	"time"

	"github.com/finvault/ledger/internal/models"
)

// OperationCommitted is published after an operation and its entries have been
// durably committed. Consumers must treat it as a notification; the ledger
// itself remains the source of truth.
type OperationCommitted struct {
	OperationID string              `json:"operation_id"`
	Entries     []models.EntryInput `json:"entries"`
	OccurredAt  time.Time           `json:"occurred_at"`
}
