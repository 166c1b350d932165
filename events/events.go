/*
Package events defines the domain events emitted after a ledger operation
commits, and the Publisher interface the engine uses to emit them.

Events are post-commit and best-effort: a publish failure never undoes a
committed ledger write. Consumers that need exactly-once delivery should
reconcile against the ledger itself.
*/
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Publisher delivers domain events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// WalletFunded is emitted after a fund operation commits.
type WalletFunded struct {
	AccountID  string          `json:"account_id"`
	EntryID    string          `json:"entry_id"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// TransferCompleted is emitted after a transfer commits.
type TransferCompleted struct {
	SenderID      string          `json:"sender_id"`
	ReceiverID    string          `json:"receiver_id"`
	Amount        decimal.Decimal `json:"amount"`
	DebitEntryID  string          `json:"debit_entry_id"`
	CreditEntryID string          `json:"credit_entry_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
