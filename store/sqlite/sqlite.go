/*
Package sqlite provides a SQLite-backed implementation of wallet.TxStore.

PURPOSE:
  Default persistence for the wallet engine. In production the same
  patterns apply to PostgreSQL (see store/postgres) - only locking
  granularity and SQL dialect differ.

KEY TABLES:
  accounts:       Current balance per account, CHECK (balance_cents >= 0)
  ledger_entries: Immutable ledger of all balance changes

MONEY REPRESENTATION:
  Balances and amounts are stored as integer cents. Amounts are validated
  to 2 fractional digits before they reach the store, so the conversion is
  exact in both directions.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch ledger_entries. The partial unique
  index on (account_id, idempotency_key) is the authoritative idempotency
  guard: a race between identical concurrent requests is resolved here at
  commit time.

LOCKING:
  SQLite has no row-level locks. Transactions are opened with BEGIN
  IMMEDIATE (via the _txlock=immediate DSN option), which takes the
  database write lock up front. That is coarser than the row lock the
  engine asks for, and strictly stronger, so the locking contract holds.
  _busy_timeout bounds lock waits instead of failing immediately.

WAL MODE:
  Opened with WAL so readers don't block behind the writer.

USAGE:
  store, err := sqlite.New("./data/wallet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := wallet.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - wallet/store.go: Interface definitions
  - store/postgres: Row-locking variant
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// Store implements wallet.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database (single connection only).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (current balance per wallet)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		opening_cents INTEGER NOT NULL,
		closing_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		counterparty_id TEXT,
		idempotency_key TEXT,
		description TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the de-duplication key. One entry per (account, key) pair.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON ledger_entries(account_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- History reads (hot path: newest first)
	CREATE INDEX IF NOT EXISTS idx_ledger_account_created
		ON ledger_entries(account_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// translateErr maps raw sqlite3 constraint failures onto the wallet error
// taxonomy: unique violations on the idempotency index become duplicates,
// check violations mentioning balance become balance-invariant failures,
// anything else constraint-shaped is a generic integrity violation.
func translateErr(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}

	msg := se.Error()
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		if strings.Contains(msg, "idempotency") {
			return fmt.Errorf("%w: %v", wallet.ErrDuplicateOperation, err)
		}
	case sqlite3.ErrConstraintCheck:
		if strings.Contains(msg, "balance") {
			return fmt.Errorf("%w: %v", wallet.ErrInsufficientBalance, err)
		}
	}
	if se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", wallet.ErrStoreIntegrity, err)
	}
	return err
}

// =============================================================================
// MONEY AND TIME CODECS
// =============================================================================

// toCents is exact: amounts are validated to 2 fractional digits upstream.
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// =============================================================================
// SHARED QUERIES - Run against the pool or an open transaction
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func createAccount(ctx context.Context, q querier, acct wallet.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, currency, balance_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(acct.ID), string(acct.Currency), toCents(acct.Balance),
		encodeTime(acct.CreatedAt), encodeTime(acct.UpdatedAt))
	return translateErr(err)
}

func getAccount(ctx context.Context, q querier, id wallet.AccountID) (wallet.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, currency, balance_cents, created_at, updated_at
		FROM accounts WHERE id = ?`, string(id))
	return scanAccount(row, id)
}

func scanAccount(row *sql.Row, id wallet.AccountID) (wallet.Account, error) {
	var (
		acctID, currency, createdAt, updatedAt string
		balanceCents                           int64
	)
	err := row.Scan(&acctID, &currency, &balanceCents, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Account{}, &wallet.NotFoundError{AccountID: id}
	}
	if err != nil {
		return wallet.Account{}, err
	}
	return wallet.Account{
		ID:        wallet.AccountID(acctID),
		Currency:  wallet.Currency(currency),
		Balance:   fromCents(balanceCents),
		CreatedAt: decodeTime(createdAt),
		UpdatedAt: decodeTime(updatedAt),
	}, nil
}

func saveBalance(ctx context.Context, q querier, id wallet.AccountID, acct wallet.Account) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		toCents(acct.Balance), encodeTime(acct.UpdatedAt), string(id))
	if err != nil {
		return translateErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &wallet.NotFoundError{AccountID: id}
	}
	return nil
}

func listAccounts(ctx context.Context, q querier) ([]wallet.Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, currency, balance_cents, created_at, updated_at
		FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []wallet.Account
	for rows.Next() {
		var (
			id, currency, createdAt, updatedAt string
			balanceCents                       int64
		)
		if err := rows.Scan(&id, &currency, &balanceCents, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, wallet.Account{
			ID:        wallet.AccountID(id),
			Currency:  wallet.Currency(currency),
			Balance:   fromCents(balanceCents),
			CreatedAt: decodeTime(createdAt),
			UpdatedAt: decodeTime(updatedAt),
		})
	}
	return accounts, rows.Err()
}

func appendEntry(ctx context.Context, q querier, e wallet.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, account_id, kind, amount_cents, opening_cents, closing_cents,
			 status, counterparty_id, idempotency_key, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.AccountID), string(e.Kind),
		toCents(e.Amount), toCents(e.OpeningBalance), toCents(e.ClosingBalance),
		string(e.Status), nullString(string(e.CounterpartyID)),
		nullString(e.IdempotencyKey), nullString(e.Description),
		encodeTime(e.CreatedAt))
	return translateErr(err)
}

func entriesByAccount(ctx context.Context, q querier, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, kind, amount_cents, opening_cents, closing_cents,
		       status, counterparty_id, idempotency_key, description, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []wallet.LedgerEntry
	for rows.Next() {
		var (
			entryID, accountID, kind, status, createdAt string
			amountCents, openingCents, closingCents     int64
			counterparty, idemKey, description          sql.NullString
		)
		if err := rows.Scan(&entryID, &accountID, &kind, &amountCents, &openingCents,
			&closingCents, &status, &counterparty, &idemKey, &description, &createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, wallet.LedgerEntry{
			ID:             wallet.EntryID(entryID),
			AccountID:      wallet.AccountID(accountID),
			Kind:           wallet.EntryKind(kind),
			Amount:         fromCents(amountCents),
			OpeningBalance: fromCents(openingCents),
			ClosingBalance: fromCents(closingCents),
			Status:         wallet.EntryStatus(status),
			CounterpartyID: wallet.AccountID(counterparty.String),
			IdempotencyKey: idemKey.String,
			Description:    description.String,
			CreatedAt:      decodeTime(createdAt),
		})
	}
	return entries, rows.Err()
}

func hasEntry(ctx context.Context, q querier, id wallet.AccountID, key string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM ledger_entries
		WHERE account_id = ? AND idempotency_key = ? LIMIT 1`,
		string(id), key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// STORE - Direct access (outside a unit of work)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acct wallet.Account) error {
	return createAccount(ctx, s.db, acct)
}

func (s *Store) GetAccount(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, s.db, id)
}

// GetAccountForUpdate outside a unit of work degrades to a plain read.
func (s *Store) GetAccountForUpdate(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, s.db, id)
}

func (s *Store) SaveBalance(ctx context.Context, id wallet.AccountID, acct wallet.Account) error {
	return saveBalance(ctx, s.db, id, acct)
}

func (s *Store) ListAccounts(ctx context.Context) ([]wallet.Account, error) {
	return listAccounts(ctx, s.db)
}

func (s *Store) AppendEntry(ctx context.Context, e wallet.LedgerEntry) error {
	return appendEntry(ctx, s.db, e)
}

func (s *Store) EntriesByAccount(ctx context.Context, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	return entriesByAccount(ctx, s.db, id)
}

func (s *Store) HasEntry(ctx context.Context, id wallet.AccountID, key string) (bool, error) {
	return hasEntry(ctx, s.db, id, key)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn inside one IMMEDIATE transaction: the write lock is
// taken up front, so concurrent units serialize here instead of failing
// mid-flight with SQLITE_BUSY.
func (s *Store) WithTx(ctx context.Context, fn func(wallet.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

// txStore is the transaction-scoped view of the store.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) CreateAccount(ctx context.Context, acct wallet.Account) error {
	return createAccount(ctx, t.tx, acct)
}

func (t *txStore) GetAccount(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, t.tx, id)
}

// GetAccountForUpdate reads under the transaction's database write lock,
// which is exclusive already. See the package comment on locking.
func (t *txStore) GetAccountForUpdate(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *txStore) SaveBalance(ctx context.Context, id wallet.AccountID, acct wallet.Account) error {
	return saveBalance(ctx, t.tx, id, acct)
}

func (t *txStore) ListAccounts(ctx context.Context) ([]wallet.Account, error) {
	return listAccounts(ctx, t.tx)
}

func (t *txStore) AppendEntry(ctx context.Context, e wallet.LedgerEntry) error {
	return appendEntry(ctx, t.tx, e)
}

func (t *txStore) EntriesByAccount(ctx context.Context, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	return entriesByAccount(ctx, t.tx, id)
}

func (t *txStore) HasEntry(ctx context.Context, id wallet.AccountID, key string) (bool, error) {
	return hasEntry(ctx, t.tx, id, key)
}

// WithTx on a transaction-scoped store reuses the existing transaction.
func (t *txStore) WithTx(_ context.Context, fn func(wallet.Store) error) error {
	return fn(t)
}

// Compile-time checks.
var (
	_ wallet.TxStore = (*Store)(nil)
	_ wallet.TxStore = (*txStore)(nil)
)
