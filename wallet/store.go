/*
store.go - Persistence interfaces for accounts and ledger entries

PURPOSE:
  Defines the interface between the engine and the database. Accounts are
  the only mutable records; the ledger is append-only. All mutual exclusion
  is delegated to the store's locking within a transaction boundary - the
  engine holds no in-process locks and no cached balances.

KEY INTERFACES:
  Store:   Account reads/writes + append-only ledger operations
  TxStore: Store + WithTx unit of work

APPEND-ONLY CONTRACT:
  Ledger entries have AppendEntry and read methods only. No update, no
  delete. The uniqueness constraint on (account_id, idempotency_key) is
  the authoritative duplicate guard: any race between identical concurrent
  requests is resolved at commit time by the store, not by the engine.

LOCKING:
  GetAccountForUpdate acquires an exclusive row lock that is held until the
  surrounding unit of work commits or rolls back. Outside a unit of work it
  degrades to a plain read.

IMPLEMENTATIONS:
  - store/sqlite:    Production default (whole-DB write transactions)
  - store/postgres:  SELECT ... FOR UPDATE row locks
  - wallet/store:    In-memory, for tests and dev

SEE ALSO:
  - engine.go: The only caller of these interfaces
*/
package wallet

import "context"

// =============================================================================
// STORE - Account persistence + append-only ledger
// =============================================================================

// Store handles persistence of accounts and ledger entries.
// Ledger entries are APPEND-ONLY: no update, no delete. Ever.
type Store interface {
	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, acct Account) error

	// GetAccount returns the account or a NotFoundError.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// GetAccountForUpdate returns the account under an exclusive row lock.
	// The lock is held until the enclosing unit of work completes. Only
	// meaningful inside WithTx.
	GetAccountForUpdate(ctx context.Context, id AccountID) (Account, error)

	// SaveBalance persists a new balance for an existing account and bumps
	// its updated-at timestamp. The store rejects negative balances.
	SaveBalance(ctx context.Context, id AccountID, acct Account) error

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]Account, error)

	// AppendEntry persists a ledger entry. Fails with ErrDuplicateOperation
	// if the (account, idempotency key) pair already exists.
	// This is the ONLY ledger write operation.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	// EntriesByAccount returns the account's entries, newest first.
	EntriesByAccount(ctx context.Context, id AccountID) ([]LedgerEntry, error)

	// HasEntry checks whether an entry exists for (account, idempotency key).
	HasEntry(ctx context.Context, id AccountID, idempotencyKey string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic unit of work
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within one atomic unit of work: if fn returns an error
// the unit is rolled back and no write survives; if fn returns nil it is
// committed. Calling WithTx on the Store passed to fn reuses the existing
// unit instead of nesting a new one.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
