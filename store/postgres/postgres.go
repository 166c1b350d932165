/*
Package postgres provides a PostgreSQL-backed implementation of wallet.TxStore.

PURPOSE:
  Production store with genuine row-level locking. GetAccountForUpdate maps
  to SELECT ... FOR UPDATE, so two units of work touching disjoint accounts
  proceed concurrently and units sharing an account serialize on that row
  only - unlike the SQLite store's whole-database write lock.

MONEY REPRESENTATION:
  NUMERIC(20,2) columns, scanned directly into decimal.Decimal. The
  CHECK (balance >= 0) constraint is the store-level half of the
  non-negative balance invariant.

ERROR TRANSLATION:
  pq.Error SQLSTATE codes drive the mapping:
    23505 unique_violation on the idempotency index -> ErrDuplicateOperation
    23514 check_violation mentioning balance        -> ErrInsufficientBalance
    any other class-23 integrity error              -> ErrStoreIntegrity

USAGE:
  store, err := postgres.New(os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := wallet.NewEngine(store)

SEE ALSO:
  - wallet/store.go: Interface definitions
  - store/sqlite: Default store
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// Store implements wallet.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for the given URL and migrates the schema.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		currency TEXT NOT NULL,
		balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		opening_balance NUMERIC(20,2) NOT NULL,
		closing_balance NUMERIC(20,2) NOT NULL,
		status TEXT NOT NULL,
		counterparty_id UUID,
		idempotency_key TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON ledger_entries(account_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_ledger_account_created
		ON ledger_entries(account_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
	classIntegrity      = "23"
)

// translateErr maps pq constraint failures onto the wallet error taxonomy.
func translateErr(err error) error {
	var pqe *pq.Error
	if !errors.As(err, &pqe) {
		return err
	}

	switch string(pqe.Code) {
	case codeUniqueViolation:
		if strings.Contains(pqe.Constraint, "idempotency") {
			return fmt.Errorf("%w: %v", wallet.ErrDuplicateOperation, err)
		}
	case codeCheckViolation:
		if strings.Contains(pqe.Constraint, "balance") || strings.Contains(pqe.Message, "balance") {
			return fmt.Errorf("%w: %v", wallet.ErrInsufficientBalance, err)
		}
	}
	if pqe.Code.Class() == classIntegrity {
		return fmt.Errorf("%w: %v", wallet.ErrStoreIntegrity, err)
	}
	return err
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func createAccount(ctx context.Context, q querier, acct wallet.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, currency, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(acct.ID), string(acct.Currency), acct.Balance,
		acct.CreatedAt, acct.UpdatedAt)
	return translateErr(err)
}

func getAccount(ctx context.Context, q querier, id wallet.AccountID, forUpdate bool) (wallet.Account, error) {
	query := `SELECT id, currency, balance, created_at, updated_at FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		acctID, currency     string
		balance              decimal.Decimal
		createdAt, updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, query, string(id)).
		Scan(&acctID, &currency, &balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Account{}, &wallet.NotFoundError{AccountID: id}
	}
	if err != nil {
		return wallet.Account{}, err
	}
	return wallet.Account{
		ID:        wallet.AccountID(acctID),
		Currency:  wallet.Currency(currency),
		Balance:   balance,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func saveBalance(ctx context.Context, q querier, id wallet.AccountID, acct wallet.Account) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
		acct.Balance, acct.UpdatedAt, string(id))
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
		SELECT id, currency, balance, created_at, updated_at
		FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []wallet.Account
	for rows.Next() {
		var (
			id, currency         string
			balance              decimal.Decimal
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &currency, &balance, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, wallet.Account{
			ID:        wallet.AccountID(id),
			Currency:  wallet.Currency(currency),
			Balance:   balance,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	return accounts, rows.Err()
}

func appendEntry(ctx context.Context, q querier, e wallet.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, account_id, kind, amount, opening_balance, closing_balance,
			 status, counterparty_id, idempotency_key, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(e.ID), string(e.AccountID), string(e.Kind),
		e.Amount, e.OpeningBalance, e.ClosingBalance,
		string(e.Status), nullString(string(e.CounterpartyID)),
		nullString(e.IdempotencyKey), nullString(e.Description), e.CreatedAt)
	return translateErr(err)
}

func entriesByAccount(ctx context.Context, q querier, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, opening_balance, closing_balance,
		       status, counterparty_id, idempotency_key, description, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []wallet.LedgerEntry
	for rows.Next() {
		var (
			entryID, accountID, kind, status   string
			amount, opening, closing           decimal.Decimal
			counterparty, idemKey, description sql.NullString
			createdAt                          time.Time
		)
		if err := rows.Scan(&entryID, &accountID, &kind, &amount, &opening,
			&closing, &status, &counterparty, &idemKey, &description, &createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, wallet.LedgerEntry{
			ID:             wallet.EntryID(entryID),
			AccountID:      wallet.AccountID(accountID),
			Kind:           wallet.EntryKind(kind),
			Amount:         amount,
			OpeningBalance: opening,
			ClosingBalance: closing,
			Status:         wallet.EntryStatus(status),
			CounterpartyID: wallet.AccountID(counterparty.String),
			IdempotencyKey: idemKey.String,
			Description:    description.String,
			CreatedAt:      createdAt,
		})
	}
	return entries, rows.Err()
}

func hasEntry(ctx context.Context, q querier, id wallet.AccountID, key string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM ledger_entries
		WHERE account_id = $1 AND idempotency_key = $2 LIMIT 1`,
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
	return getAccount(ctx, s.db, id, false)
}

// GetAccountForUpdate outside a unit of work degrades to a plain read:
// a FOR UPDATE lock without a surrounding transaction is released
// immediately and guarantees nothing.
func (s *Store) GetAccountForUpdate(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, s.db, id, false)
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

// WithTx executes fn inside one database transaction.
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
	return getAccount(ctx, t.tx, id, false)
}

// GetAccountForUpdate blocks until any other transaction holding the row
// lock commits or rolls back. This is the engine's only blocking point.
func (t *txStore) GetAccountForUpdate(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return getAccount(ctx, t.tx, id, true)
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
