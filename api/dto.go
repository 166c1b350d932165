/*
dto.go - Request/response data structures for the wallet API

PURPOSE:
  Explicit boundary types. Requests are validated and canonicalized here
  before the engine sees them; responses are shaped here so internal types
  never leak. Balances and amounts render as fixed 2-decimal strings.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateWalletRequest is the request to create a wallet.
type CreateWalletRequest struct {
	Currency string `json:"currency"`
}

// FundWalletRequest is the request to credit a wallet.
type FundWalletRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// TransferRequest is the request to move funds between two wallets.
type TransferRequest struct {
	SenderWalletID   string          `json:"sender_wallet_id"`
	ReceiverWalletID string          `json:"receiver_wallet_id"`
	Amount           decimal.Decimal `json:"amount"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Description      string          `json:"description,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// WalletDTO represents a wallet in API responses.
type WalletDTO struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             string `json:"id"`
	WalletID       string `json:"wallet_id"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	OpeningBalance string `json:"opening_balance"`
	ClosingBalance string `json:"closing_balance"`
	Status         string `json:"status"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// WalletWithHistoryDTO is a wallet plus its ledger entries, newest first.
type WalletWithHistoryDTO struct {
	WalletDTO
	Transactions []EntryDTO `json:"transactions"`
}

// TransferResponseDTO holds both updated wallets after a transfer.
type TransferResponseDTO struct {
	Sender   WalletDTO `json:"sender"`
	Receiver WalletDTO `json:"receiver"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toWalletDTO(a wallet.Account) WalletDTO {
	return WalletDTO{
		ID:        string(a.ID),
		Currency:  string(a.Currency),
		Balance:   a.Balance.StringFixed(2),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e wallet.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		WalletID:       string(e.AccountID),
		Kind:           string(e.Kind),
		Amount:         e.Amount.StringFixed(2),
		OpeningBalance: e.OpeningBalance.StringFixed(2),
		ClosingBalance: e.ClosingBalance.StringFixed(2),
		Status:         string(e.Status),
		CounterpartyID: string(e.CounterpartyID),
		IdempotencyKey: e.IdempotencyKey,
		Description:    e.Description,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []wallet.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}
