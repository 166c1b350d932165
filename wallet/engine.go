/*
engine.go - The ledger transaction engine

PURPOSE:
  Composes the store, the idempotency guard, and the balance invariant into
  the fund and transfer operations. This is the only code that mutates
  balances, and it only ever does so inside one atomic unit of work.

CRITICAL INVARIANTS:
  1. balance >= 0 at every commit point
  2. A transfer conserves value: the two entries' signed amounts sum to zero
  3. An (account, idempotency key) pair is applied at most once
  4. No partial state: every failure inside the unit rolls back every write

IDEMPOTENCY (two-phase):
  When a key is supplied, the engine checks for an existing entry twice:
  once before opening the unit (cheap fast path) and once inside it. The
  authoritative guarantee is the store's uniqueness constraint on
  (account_id, idempotency_key) - two identical concurrent requests yield
  exactly one success and one ErrDuplicateOperation. Without a key, every
  call is a new operation.

DEADLOCK AVOIDANCE:
  A transfer locks its two account rows in lexicographic id order,
  regardless of which is sender or receiver. Any two concurrent transfers
  sharing an account therefore request locks in the same relative order and
  can never form a circular wait. This rule is the sole deadlock-prevention
  mechanism; every two-account mutation must go through Transfer.

CONCURRENCY MODEL:
  The engine is stateless: no in-process locks, no cached balances. All
  mutual exclusion is the store's row locking inside WithTx. Blocking on a
  row lock is the only blocking point, bounded to the span of one operation.
  The engine never retries internally; retrying with the same idempotency
  key is safe and is the caller's decision.

SEE ALSO:
  - store.go: The unit-of-work and locking contract
  - errors.go: Everything Fund/Transfer can return
*/
package wallet

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/events"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine exposes the wallet operations. Construct with NewEngine; the zero
// value is not usable.
type Engine struct {
	store     TxStore
	publisher events.Publisher
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher attaches a post-commit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine on top of a transactional store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// ACCOUNT OPERATIONS
// =============================================================================

// CreateAccount creates a zero-balance account in the given currency.
func (e *Engine) CreateAccount(ctx context.Context, currency Currency) (Account, error) {
	if !currency.Supported() {
		return Account{}, &UnsupportedCurrencyError{Currency: currency}
	}

	now := e.now()
	acct := Account{
		ID:        NewAccountID(),
		Currency:  currency,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// GetAccount returns the account or ErrAccountNotFound.
func (e *Engine) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	return e.store.GetAccount(ctx, id)
}

// GetAccountWithHistory returns the account and its ledger entries,
// newest first.
func (e *Engine) GetAccountWithHistory(ctx context.Context, id AccountID) (Account, []LedgerEntry, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, nil, err
	}
	entries, err := e.store.EntriesByAccount(ctx, id)
	if err != nil {
		return Account{}, nil, err
	}
	return acct, entries, nil
}

// ListAccounts returns all accounts.
func (e *Engine) ListAccounts(ctx context.Context) ([]Account, error) {
	return e.store.ListAccounts(ctx)
}

// =============================================================================
// FUND - Single positive credit to one account
// =============================================================================

// FundRequest carries already-validated, canonical-precision input.
type FundRequest struct {
	AccountID      AccountID
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// Fund applies a single positive credit to one account, appending one
// completed ledger entry in the same atomic unit.
func (e *Engine) Fund(ctx context.Context, req FundRequest) (Account, error) {
	if err := CheckAmount(req.Amount); err != nil {
		return Account{}, err
	}

	// Fast path: reject known duplicates before paying for a transaction.
	// Authoritative resolution is the store's uniqueness constraint.
	if req.IdempotencyKey != "" {
		if err := e.checkIdempotency(ctx, e.store, req.AccountID, req.IdempotencyKey); err != nil {
			return Account{}, err
		}
	}

	var updated Account
	var entry LedgerEntry
	err := e.store.WithTx(ctx, func(s Store) error {
		if req.IdempotencyKey != "" {
			if err := e.checkIdempotency(ctx, s, req.AccountID, req.IdempotencyKey); err != nil {
				return err
			}
		}

		acct, err := s.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}

		opening := acct.Balance
		acct.Balance = opening.Add(req.Amount)
		acct.UpdatedAt = e.now()
		if err := s.SaveBalance(ctx, acct.ID, acct); err != nil {
			return err
		}

		entry = LedgerEntry{
			ID:             NewEntryID(),
			AccountID:      acct.ID,
			Kind:           EntryFund,
			Amount:         req.Amount,
			OpeningBalance: opening,
			ClosingBalance: acct.Balance,
			Status:         StatusCompleted,
			IdempotencyKey: req.IdempotencyKey,
			Description:    defaultString(req.Description, "Wallet funding"),
			CreatedAt:      e.now(),
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			return err
		}

		updated = acct
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	e.publish(ctx, events.WalletFunded{
		AccountID:  string(updated.ID),
		EntryID:    string(entry.ID),
		Amount:     req.Amount,
		Balance:    updated.Balance,
		OccurredAt: entry.CreatedAt,
	})
	return updated, nil
}

// =============================================================================
// TRANSFER - Atomic two-account mutation
// =============================================================================

// TransferRequest carries already-validated, canonical-precision input.
type TransferRequest struct {
	SenderID       AccountID
	ReceiverID     AccountID
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// TransferResult holds both updated accounts after a successful transfer.
type TransferResult struct {
	Sender   Account
	Receiver Account
}

// Transfer atomically moves Amount from sender to receiver, appending a
// debit entry on the sender and a credit entry on the receiver in the same
// atomic unit. The idempotency key, when present, is owned by the sender
// side only.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.SenderID == req.ReceiverID {
		return TransferResult{}, ErrSelfTransfer
	}
	if err := CheckAmount(req.Amount); err != nil {
		return TransferResult{}, err
	}
	if req.IdempotencyKey != "" {
		if err := e.checkIdempotency(ctx, e.store, req.SenderID, req.IdempotencyKey); err != nil {
			return TransferResult{}, err
		}
	}

	// Advisory pre-check without locks. Cheap short-circuit for missing
	// accounts, currency divergence, and obvious shortfalls; every check is
	// re-verified under lock because balances can change before we get there.
	if err := e.precheckTransfer(ctx, req); err != nil {
		return TransferResult{}, err
	}

	var result TransferResult
	var debit, credit LedgerEntry
	err := e.store.WithTx(ctx, func(s Store) error {
		if req.IdempotencyKey != "" {
			if err := e.checkIdempotency(ctx, s, req.SenderID, req.IdempotencyKey); err != nil {
				return err
			}
		}

		sender, receiver, err := lockPair(ctx, s, req.SenderID, req.ReceiverID)
		if err != nil {
			return err
		}

		// Re-verify under lock: the advisory read may be stale.
		if sender.Currency != receiver.Currency {
			return ErrCurrencyMismatch
		}
		if sender.Balance.LessThan(req.Amount) {
			return &InsufficientBalanceError{
				AccountID: sender.ID,
				Available: sender.Balance,
				Required:  req.Amount,
			}
		}

		senderOpening := sender.Balance
		receiverOpening := receiver.Balance
		sender.Balance = senderOpening.Sub(req.Amount)
		receiver.Balance = receiverOpening.Add(req.Amount)
		now := e.now()
		sender.UpdatedAt = now
		receiver.UpdatedAt = now

		if err := s.SaveBalance(ctx, sender.ID, sender); err != nil {
			return err
		}
		if err := s.SaveBalance(ctx, receiver.ID, receiver); err != nil {
			return err
		}

		debit = LedgerEntry{
			ID:             NewEntryID(),
			AccountID:      sender.ID,
			Kind:           EntryTransferOut,
			Amount:         req.Amount,
			OpeningBalance: senderOpening,
			ClosingBalance: sender.Balance,
			Status:         StatusCompleted,
			CounterpartyID: receiver.ID,
			IdempotencyKey: req.IdempotencyKey,
			Description:    defaultString(req.Description, "Transfer to "+string(receiver.ID)),
			CreatedAt:      now,
		}
		credit = LedgerEntry{
			ID:             NewEntryID(),
			AccountID:      receiver.ID,
			Kind:           EntryTransferIn,
			Amount:         req.Amount,
			OpeningBalance: receiverOpening,
			ClosingBalance: receiver.Balance,
			Status:         StatusCompleted,
			CounterpartyID: sender.ID,
			Description:    defaultString(req.Description, "Transfer from "+string(sender.ID)),
			CreatedAt:      now,
		}
		if err := s.AppendEntry(ctx, debit); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, credit); err != nil {
			return err
		}

		result = TransferResult{Sender: sender, Receiver: receiver}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	e.publish(ctx, events.TransferCompleted{
		SenderID:      string(result.Sender.ID),
		ReceiverID:    string(result.Receiver.ID),
		Amount:        req.Amount,
		DebitEntryID:  string(debit.ID),
		CreditEntryID: string(credit.ID),
		OccurredAt:    debit.CreatedAt,
	})
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkIdempotency rejects the operation if an entry already exists for the
// (account, key) pair.
func (e *Engine) checkIdempotency(ctx context.Context, s Store, id AccountID, key string) error {
	exists, err := s.HasEntry(ctx, id, key)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateOperationError{AccountID: id, Key: key}
	}
	return nil
}

// precheckTransfer reads both accounts without locks and validates
// existence, currency, and sender balance. Advisory only.
func (e *Engine) precheckTransfer(ctx context.Context, req TransferRequest) error {
	sender, err := e.store.GetAccount(ctx, req.SenderID)
	if err != nil {
		return err
	}
	receiver, err := e.store.GetAccount(ctx, req.ReceiverID)
	if err != nil {
		return err
	}
	if sender.Currency != receiver.Currency {
		return ErrCurrencyMismatch
	}
	if sender.Balance.LessThan(req.Amount) {
		return &InsufficientBalanceError{
			AccountID: sender.ID,
			Available: sender.Balance,
			Required:  req.Amount,
		}
	}
	return nil
}

// lockPair acquires exclusive locks on both accounts in lexicographic id
// order and maps the locked rows back to sender/receiver roles. The sorted
// order is the deadlock-avoidance invariant: concurrent transfers sharing
// an account always request locks in the same relative order.
func lockPair(ctx context.Context, s Store, senderID, receiverID AccountID) (sender, receiver Account, err error) {
	ids := []AccountID{senderID, receiverID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	first, err := s.GetAccountForUpdate(ctx, ids[0])
	if err != nil {
		return Account{}, Account{}, err
	}
	second, err := s.GetAccountForUpdate(ctx, ids[1])
	if err != nil {
		return Account{}, Account{}, err
	}

	if first.ID == senderID {
		return first, second, nil
	}
	return second, first, nil
}

// publish emits a post-commit event. Best effort: the ledger write is
// already durable, so a broker failure must not fail the operation.
func (e *Engine) publish(ctx context.Context, event any) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.Publish(ctx, event)
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
