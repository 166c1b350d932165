/*
errors.go - Centralized error types for the wallet engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes without knowing anything
  about the operations that produced them.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any store access
  2. Domain errors - Business rule violations (balance, idempotency)
  3. Store errors - Constraint and integrity failures from persistence

USAGE:
  Callers classify with errors.Is or the helpers:

    if errors.Is(err, wallet.ErrDuplicateOperation) {
        // already applied, use the original result
    }

SEE ALSO:
  - engine.go: Raises these errors
  - store/sqlite, store/postgres: Translate constraint violations into them
*/
package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is not positive or carries
	// more than 2 fractional digits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnsupportedCurrency is returned when a currency is outside the
	// closed supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSelfTransfer is returned when sender and receiver are the same account.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")

	// ErrCurrencyMismatch is returned when a transfer spans two currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInsufficientBalance is returned when a debit would take the balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateOperation is returned when an idempotency key was already
	// used for the account. This is expected behavior for retries.
	ErrDuplicateOperation = errors.New("duplicate idempotency key")

	// ErrStoreIntegrity is returned for a lower-level constraint failure
	// not otherwise classified.
	ErrStoreIntegrity = errors.New("store integrity violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports the offending amount and why it was rejected.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// InsufficientBalanceError reports available vs. required amounts.
// Amounts are the caller-visible decimal values.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance. Available: %s, Required: %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// DuplicateOperationError identifies the (account, key) pair that was reused.
type DuplicateOperationError struct {
	AccountID AccountID
	Key       string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("operation with idempotency key %q already exists for account %s",
		e.Key, e.AccountID)
}

func (e *DuplicateOperationError) Unwrap() error { return ErrDuplicateOperation }

// UnsupportedCurrencyError reports a currency outside the supported set.
type UnsupportedCurrencyError struct {
	Currency Currency
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency %q", e.Currency)
}

func (e *UnsupportedCurrencyError) Unwrap() error { return ErrUnsupportedCurrency }

// NotFoundError identifies which account was missing.
type NotFoundError struct {
	AccountID AccountID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("wallet with ID %s not found", e.AccountID)
}

func (e *NotFoundError) Unwrap() error { return ErrAccountNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnsupportedCurrency) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsConflict returns true for idempotency conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateOperation)
}
