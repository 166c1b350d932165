/*
Package wallet provides the core ledger transaction engine.

PURPOSE:
  This package contains the domain types and algorithms for maintaining
  monetary balances and an immutable ledger of every balance-changing
  operation. Funding a wallet and transferring between wallets are the
  two mutations; everything else is a read.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A balance-holding entity with a currency
  - LedgerEntry: An immutable record of one balance change
  - EntryKind: Whether an entry credits or debits its account
  - Currency: Closed set of supported currency codes

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors;
     amounts carry exactly 2 fractional digits
  3. Auditability: Every entry snapshots opening and closing balance
  4. Unsigned amounts: Amount is always positive; EntryKind carries
     the sign semantics (SignedAmount derives the applied delta)

USAGE:
  engine := wallet.NewEngine(store)
  acct, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
  acct, err = engine.Fund(ctx, wallet.FundRequest{
      AccountID: acct.ID,
      Amount:    decimal.RequireFromString("50.00"),
  })

SEE ALSO:
  - engine.go: Fund/Transfer orchestration
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// NewAccountID generates a random account identifier.
func NewAccountID() AccountID { return AccountID(uuid.NewString()) }

// NewEntryID generates a random ledger entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// =============================================================================
// CURRENCY - Closed enumeration
// =============================================================================

type Currency string

const (
	CurrencyUSD Currency = "USD"
)

// Supported reports whether the currency is in the closed supported set.
// Extending the set is a one-line change here; nothing else hard-codes it.
func (c Currency) Supported() bool {
	switch c {
	case CurrencyUSD:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT - Balance-holding entity
// =============================================================================

// Account is a plain data record. Persistence (load, lock, save) is handled
// by explicit Store functions, never by methods on the record itself.
type Account struct {
	ID        AccountID
	Currency  Currency
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one balance change
// =============================================================================

type EntryKind string

const (
	EntryFund        EntryKind = "fund"         // Credit from external funding
	EntryTransferOut EntryKind = "transfer_out" // Debit side of a transfer
	EntryTransferIn  EntryKind = "transfer_in"  // Credit side of a transfer
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// LedgerEntry records one balance change. Amount is always positive; Kind
// determines whether it was applied as a credit or a debit.
type LedgerEntry struct {
	ID             EntryID
	AccountID      AccountID
	Kind           EntryKind
	Amount         decimal.Decimal
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	Status         EntryStatus
	CounterpartyID AccountID // other side of a transfer, empty for funding
	IdempotencyKey string    // caller-supplied dedup token, empty if none
	Description    string
	CreatedAt      time.Time
}

// SignedAmount returns the delta this entry applied to its account's balance:
// negative for debits, positive for credits.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Kind == EntryTransferOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// AMOUNT VALIDATION
// =============================================================================

// CheckAmount validates a monetary amount for a balance-changing operation:
// strictly positive and canonical 2-fractional-digit precision. Amounts with
// more precision are rejected, never truncated.
func CheckAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return &InvalidAmountError{Amount: amount, Reason: "amount must be positive"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &InvalidAmountError{Amount: amount, Reason: "amount must have at most 2 decimal places"}
	}
	return nil
}
