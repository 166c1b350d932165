/*
handlers.go - HTTP handlers for the wallet ledger engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and boundary validation, then delegates to the engine.

ENDPOINTS:
  POST   /api/wallets                    Create wallet
  GET    /api/wallets                    List wallets
  GET    /api/wallets/{id}               Get wallet
  GET    /api/wallets/{id}/transactions  Wallet + ledger entries (newest first)
  POST   /api/wallets/{id}/fund          Credit a wallet
  POST   /api/transfers                  Move funds between wallets

BOUNDARY VALIDATION:
  Amounts must parse as decimals with at most 2 fractional digits; more
  precision is rejected, never truncated. The idempotency key comes from
  the request body or, failing that, the Idempotency-Key header.

ERROR HANDLING:
  Engine errors map to status by kind:
  - 400: invalid amount, self transfer, currency mismatch, unsupported
         currency, insufficient balance
  - 404: wallet not found
  - 409: duplicate idempotency key
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/wallet-engine/wallet"
)

// Handler holds the engine dependency for all HTTP handlers.
type Handler struct {
	Engine *wallet.Engine
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *wallet.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// CreateWallet creates a zero-balance wallet.
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Currency == "" {
		req.Currency = string(wallet.CurrencyUSD)
	}

	acct, err := h.Engine.CreateAccount(r.Context(), wallet.Currency(req.Currency))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletDTO(acct))
}

// ListWallets returns all wallets.
func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Engine.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list wallets", err)
		return
	}

	dtos := make([]WalletDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toWalletDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWallet returns a single wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := wallet.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Engine.GetAccount(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(acct))
}

// GetWalletWithTransactions returns a wallet plus its ledger entries,
// newest first.
func (h *Handler) GetWalletWithTransactions(w http.ResponseWriter, r *http.Request) {
	id := wallet.AccountID(chi.URLParam(r, "id"))

	acct, entries, err := h.Engine.GetAccountWithHistory(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletWithHistoryDTO{
		WalletDTO:    toWalletDTO(acct),
		Transactions: toEntryDTOs(entries),
	})
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// FundWallet credits a wallet.
func (h *Handler) FundWallet(w http.ResponseWriter, r *http.Request) {
	id := wallet.AccountID(chi.URLParam(r, "id"))

	var req FundWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := wallet.CheckAmount(req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	acct, err := h.Engine.Fund(r.Context(), wallet.FundRequest{
		AccountID:      id,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Description:    req.Description,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(acct))
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SenderWalletID == "" || req.ReceiverWalletID == "" {
		writeError(w, http.StatusBadRequest, "sender_wallet_id and receiver_wallet_id are required", nil)
		return
	}
	if err := wallet.CheckAmount(req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	result, err := h.Engine.Transfer(r.Context(), wallet.TransferRequest{
		SenderID:       wallet.AccountID(req.SenderWalletID),
		ReceiverID:     wallet.AccountID(req.ReceiverWalletID),
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Description:    req.Description,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponseDTO{
		Sender:   toWalletDTO(result.Sender),
		Receiver: toWalletDTO(result.Receiver),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// idempotencyKey prefers the body field, falling back to the header.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	return r.Header.Get("Idempotency-Key")
}

// writeEngineError maps an engine error to an HTTP status by kind.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case wallet.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case wallet.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case wallet.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
