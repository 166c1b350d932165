// Package store provides an in-memory wallet.TxStore for tests and dev.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory wallet.TxStore. A single mutex serializes units of
// work, so the row-locking contract holds trivially. WithTx operates on a
// copy of the state and swaps it in on success, which gives real rollback
// semantics: a failed unit leaves no trace.
type Memory struct {
	mu    sync.Mutex
	state state

	// AppendHook, if set, runs before every ledger append and can force it
	// to fail. Used by tests to observe rollback end-to-end.
	AppendHook func(wallet.LedgerEntry) error
}

type state struct {
	accounts map[wallet.AccountID]wallet.Account
	entries  []wallet.LedgerEntry
	keys     map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		state: state{
			accounts: make(map[wallet.AccountID]wallet.Account),
			keys:     make(map[string]bool),
		},
	}
}

func (st *state) clone() state {
	accounts := make(map[wallet.AccountID]wallet.Account, len(st.accounts))
	for id, a := range st.accounts {
		accounts[id] = a
	}
	keys := make(map[string]bool, len(st.keys))
	for k, v := range st.keys {
		keys[k] = v
	}
	entries := make([]wallet.LedgerEntry, len(st.entries))
	copy(entries, st.entries)
	return state{accounts: accounts, entries: entries, keys: keys}
}

func idemKey(id wallet.AccountID, key string) string {
	return string(id) + "\x00" + key
}

// =============================================================================
// STATE OPERATIONS - Shared between direct and transactional access
// =============================================================================

func (st *state) createAccount(acct wallet.Account) error {
	if _, exists := st.accounts[acct.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", wallet.ErrStoreIntegrity, acct.ID)
	}
	st.accounts[acct.ID] = acct
	return nil
}

func (st *state) getAccount(id wallet.AccountID) (wallet.Account, error) {
	acct, ok := st.accounts[id]
	if !ok {
		return wallet.Account{}, &wallet.NotFoundError{AccountID: id}
	}
	return acct, nil
}

func (st *state) saveBalance(id wallet.AccountID, acct wallet.Account) error {
	if _, ok := st.accounts[id]; !ok {
		return &wallet.NotFoundError{AccountID: id}
	}
	// Mirrors the SQL stores' CHECK (balance >= 0) constraint.
	if acct.Balance.IsNegative() {
		return fmt.Errorf("%w: balance constraint violated for account %s",
			wallet.ErrInsufficientBalance, id)
	}
	st.accounts[id] = acct
	return nil
}

func (st *state) listAccounts() []wallet.Account {
	accounts := make([]wallet.Account, 0, len(st.accounts))
	for _, a := range st.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}

func (st *state) appendEntry(entry wallet.LedgerEntry, hook func(wallet.LedgerEntry) error) error {
	if hook != nil {
		if err := hook(entry); err != nil {
			return err
		}
	}
	if entry.IdempotencyKey != "" {
		k := idemKey(entry.AccountID, entry.IdempotencyKey)
		if st.keys[k] {
			return &wallet.DuplicateOperationError{
				AccountID: entry.AccountID,
				Key:       entry.IdempotencyKey,
			}
		}
		st.keys[k] = true
	}
	st.entries = append(st.entries, entry)
	return nil
}

func (st *state) entriesByAccount(id wallet.AccountID) []wallet.LedgerEntry {
	// Newest first. Entries are appended in commit order, so walking the
	// slice backwards keeps same-timestamp entries in reverse insert order.
	var result []wallet.LedgerEntry
	for i := len(st.entries) - 1; i >= 0; i-- {
		if st.entries[i].AccountID == id {
			result = append(result, st.entries[i])
		}
	}
	return result
}

func (st *state) hasEntry(id wallet.AccountID, key string) bool {
	return st.keys[idemKey(id, key)]
}

// =============================================================================
// DIRECT ACCESS - Outside a unit of work
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, acct wallet.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createAccount(acct)
}

func (m *Memory) GetAccount(_ context.Context, id wallet.AccountID) (wallet.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getAccount(id)
}

// GetAccountForUpdate outside a unit of work degrades to a plain read.
func (m *Memory) GetAccountForUpdate(ctx context.Context, id wallet.AccountID) (wallet.Account, error) {
	return m.GetAccount(ctx, id)
}

func (m *Memory) SaveBalance(_ context.Context, id wallet.AccountID, acct wallet.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveBalance(id, acct)
}

func (m *Memory) ListAccounts(_ context.Context) ([]wallet.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.listAccounts(), nil
}

func (m *Memory) AppendEntry(_ context.Context, entry wallet.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendEntry(entry, m.AppendHook)
}

func (m *Memory) EntriesByAccount(_ context.Context, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.entriesByAccount(id), nil
}

func (m *Memory) HasEntry(_ context.Context, id wallet.AccountID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.hasEntry(id, key), nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx runs fn against a copy of the state and commits it on success.
// The store mutex is held for the whole unit, serializing writers.
func (m *Memory) WithTx(_ context.Context, fn func(wallet.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(&txMemory{parent: m, state: &working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// txMemory is the transaction-scoped view. The parent's mutex is already
// held, so methods operate on the working state without locking.
type txMemory struct {
	parent *Memory
	state  *state
}

func (t *txMemory) CreateAccount(_ context.Context, acct wallet.Account) error {
	return t.state.createAccount(acct)
}

func (t *txMemory) GetAccount(_ context.Context, id wallet.AccountID) (wallet.Account, error) {
	return t.state.getAccount(id)
}

func (t *txMemory) GetAccountForUpdate(_ context.Context, id wallet.AccountID) (wallet.Account, error) {
	return t.state.getAccount(id)
}

func (t *txMemory) SaveBalance(_ context.Context, id wallet.AccountID, acct wallet.Account) error {
	return t.state.saveBalance(id, acct)
}

func (t *txMemory) ListAccounts(_ context.Context) ([]wallet.Account, error) {
	return t.state.listAccounts(), nil
}

func (t *txMemory) AppendEntry(_ context.Context, entry wallet.LedgerEntry) error {
	return t.state.appendEntry(entry, t.parent.AppendHook)
}

func (t *txMemory) EntriesByAccount(_ context.Context, id wallet.AccountID) ([]wallet.LedgerEntry, error) {
	return t.state.entriesByAccount(id), nil
}

func (t *txMemory) HasEntry(_ context.Context, id wallet.AccountID, key string) (bool, error) {
	return t.state.hasEntry(id, key), nil
}

// WithTx on a transaction-scoped store reuses the existing unit.
func (t *txMemory) WithTx(_ context.Context, fn func(wallet.Store) error) error {
	return fn(t)
}

// Compile-time checks.
var (
	_ wallet.TxStore = (*Memory)(nil)
	_ wallet.TxStore = (*txMemory)(nil)
)
