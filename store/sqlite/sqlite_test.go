package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-engine/store/sqlite"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestStore uses a file-backed database: ":memory:" gives every pooled
// connection its own database, which breaks multi-connection tests.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAccount(balance string) wallet.Account {
	now := time.Now().UTC()
	return wallet.Account{
		ID:        wallet.NewAccountID(),
		Currency:  wallet.CurrencyUSD,
		Balance:   amt(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func fundEntry(id wallet.AccountID, key string) wallet.LedgerEntry {
	return wallet.LedgerEntry{
		ID:             wallet.NewEntryID(),
		AccountID:      id,
		Kind:           wallet.EntryFund,
		Amount:         amt("10.00"),
		OpeningBalance: decimal.Zero,
		ClosingBalance: amt("10.00"),
		Status:         wallet.StatusCompleted,
		IdempotencyKey: key,
		Description:    "Wallet funding",
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// ROUND-TRIPS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("5000.23")
	require.NoError(t, store.CreateAccount(ctx, acct))

	got, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, wallet.CurrencyUSD, got.Currency)
	assert.True(t, got.Balance.Equal(amt("5000.23")), "cents round-trip must be exact, got %s", got.Balance)
}

func TestStore_GetAccount_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAccount(context.Background(), "00000000-0000-0000-0000-000000000000")

	assert.ErrorIs(t, err, wallet.ErrAccountNotFound)
}

func TestStore_EntryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("0.00")
	require.NoError(t, store.CreateAccount(ctx, acct))

	entry := fundEntry(acct.ID, "k1")
	require.NoError(t, store.AppendEntry(ctx, entry))

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, wallet.EntryFund, got.Kind)
	assert.Equal(t, wallet.StatusCompleted, got.Status)
	assert.Equal(t, "k1", got.IdempotencyKey)
	assert.Equal(t, "Wallet funding", got.Description)
	assert.True(t, got.Amount.Equal(amt("10.00")))
	assert.True(t, got.OpeningBalance.IsZero())
	assert.True(t, got.ClosingBalance.Equal(amt("10.00")))
}

func TestStore_ListAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, newAccount("1.00")))
	require.NoError(t, store.CreateAccount(ctx, newAccount("2.00")))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

func TestStore_IdempotencyUniqueness_TranslatedToDuplicate(t *testing.T) {
	// The partial unique index on (account_id, idempotency_key) is the
	// authoritative guard; its violation must surface as DuplicateOperation.

	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("0.00")
	other := newAccount("0.00")
	require.NoError(t, store.CreateAccount(ctx, acct))
	require.NoError(t, store.CreateAccount(ctx, other))

	require.NoError(t, store.AppendEntry(ctx, fundEntry(acct.ID, "k1")))

	err := store.AppendEntry(ctx, fundEntry(acct.ID, "k1"))
	assert.ErrorIs(t, err, wallet.ErrDuplicateOperation)

	// Same key, different account: allowed.
	assert.NoError(t, store.AppendEntry(ctx, fundEntry(other.ID, "k1")))

	// No key at all: never deduplicated.
	assert.NoError(t, store.AppendEntry(ctx, fundEntry(acct.ID, "")))
	assert.NoError(t, store.AppendEntry(ctx, fundEntry(acct.ID, "")))
}

func TestStore_NegativeBalance_TranslatedToInsufficient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("10.00")
	require.NoError(t, store.CreateAccount(ctx, acct))

	acct.Balance = amt("-0.01")
	err := store.SaveBalance(ctx, acct.ID, acct)

	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance,
		"CHECK (balance_cents >= 0) must map to the balance-invariant failure")
}

func TestStore_HasEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("0.00")
	require.NoError(t, store.CreateAccount(ctx, acct))
	require.NoError(t, store.AppendEntry(ctx, fundEntry(acct.ID, "k1")))

	ok, err := store.HasEntry(ctx, acct.ID, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasEntry(ctx, acct.ID, "k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("100.00")
	require.NoError(t, store.CreateAccount(ctx, acct))

	err := store.WithTx(ctx, func(s wallet.Store) error {
		updated := acct
		updated.Balance = amt("1.00")
		if err := s.SaveBalance(ctx, acct.ID, updated); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, fundEntry(acct.ID, "")); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := store.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(amt("100.00")), "balance write must be rolled back")

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "entry append must be rolled back")
}

func TestStore_WithTx_NestedReusesTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newAccount("0.00")
	require.NoError(t, store.CreateAccount(ctx, acct))

	err := store.WithTx(ctx, func(s wallet.Store) error {
		tx, ok := s.(wallet.TxStore)
		require.True(t, ok)
		return tx.WithTx(ctx, func(inner wallet.Store) error {
			return inner.AppendEntry(ctx, fundEntry(acct.ID, ""))
		})
	})
	require.NoError(t, err)

	entries, err := store.EntriesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// ENGINE OVER SQLITE - End to end
// =============================================================================

func TestEngine_OverSQLite_FundAndTransfer(t *testing.T) {
	store := newTestStore(t)
	engine := wallet.NewEngine(store)
	ctx := context.Background()

	a, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
	require.NoError(t, err)
	b, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
	require.NoError(t, err)

	_, err = engine.Fund(ctx, wallet.FundRequest{AccountID: a.ID, Amount: amt("100.00")})
	require.NoError(t, err)

	result, err := engine.Transfer(ctx, wallet.TransferRequest{
		SenderID:   a.ID,
		ReceiverID: b.ID,
		Amount:     amt("30.00"),
	})
	require.NoError(t, err)
	assert.True(t, result.Sender.Balance.Equal(amt("70.00")))
	assert.True(t, result.Receiver.Balance.Equal(amt("30.00")))

	_, entries, err := engine.GetAccountWithHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, wallet.EntryTransferOut, entries[0].Kind, "newest first")
}

func TestEngine_OverSQLite_DuplicateKeyViaConstraint(t *testing.T) {
	store := newTestStore(t)
	engine := wallet.NewEngine(store)
	ctx := context.Background()

	a, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
	require.NoError(t, err)

	_, err = engine.Fund(ctx, wallet.FundRequest{
		AccountID: a.ID, Amount: amt("50.00"), IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	_, err = engine.Fund(ctx, wallet.FundRequest{
		AccountID: a.ID, Amount: amt("50.00"), IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, wallet.ErrDuplicateOperation)

	got, err := engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(amt("50.00")))
}

func TestEngine_OverSQLite_ConcurrentOpposingTransfers(t *testing.T) {
	store := newTestStore(t)
	engine := wallet.NewEngine(store)
	ctx := context.Background()

	a, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
	require.NoError(t, err)
	b, err := engine.CreateAccount(ctx, wallet.CurrencyUSD)
	require.NoError(t, err)
	_, err = engine.Fund(ctx, wallet.FundRequest{AccountID: a.ID, Amount: amt("100.00")})
	require.NoError(t, err)
	_, err = engine.Fund(ctx, wallet.FundRequest{AccountID: b.ID, Amount: amt("100.00")})
	require.NoError(t, err)

	const rounds = 10
	var wg sync.WaitGroup
	wg.Add(2)
	transfer := func(from, to wallet.AccountID) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := engine.Transfer(ctx, wallet.TransferRequest{
				SenderID:   from,
				ReceiverID: to,
				Amount:     amt("1.00"),
			})
			assert.NoError(t, err)
		}
	}
	go transfer(a.ID, b.ID)
	go transfer(b.ID, a.ID)
	wg.Wait()

	gotA, _ := engine.GetAccount(ctx, a.ID)
	gotB, _ := engine.GetAccount(ctx, b.ID)
	assert.True(t, gotA.Balance.Equal(amt("100.00")), "got %s", gotA.Balance)
	assert.True(t, gotB.Balance.Equal(amt("100.00")), "got %s", gotB.Balance)
}
