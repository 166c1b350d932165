package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/wallet"
	"github.com/warp/wallet-engine/wallet/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter() http.Handler {
	engine := wallet.NewEngine(store.NewMemory())
	return api.NewRouter(api.NewHandler(engine))
}

func doRequest(t *testing.T, router http.Handler, method, path string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeWallet(t *testing.T, rec *httptest.ResponseRecorder) api.WalletDTO {
	t.Helper()
	var dto api.WalletDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	return dto
}

func createWallet(t *testing.T, router http.Handler) api.WalletDTO {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/wallets", `{"currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeWallet(t, rec)
}

func fundWallet(t *testing.T, router http.Handler, id, amount string) api.WalletDTO {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/wallets/"+id+"/fund",
		fmt.Sprintf(`{"amount":%s}`, amount))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeWallet(t, rec)
}

// =============================================================================
// WALLET ROUTES
// =============================================================================

func TestCreateWallet(t *testing.T) {
	router := newTestRouter()

	dto := createWallet(t, router)

	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "USD", dto.Currency)
	assert.Equal(t, "0.00", dto.Balance)
}

func TestCreateWallet_DefaultsToUSD(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/wallets", `{}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "USD", decodeWallet(t, rec).Currency)
}

func TestCreateWallet_UnsupportedCurrency(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/wallets", `{"currency":"EUR"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWallet(t *testing.T) {
	router := newTestRouter()
	created := createWallet(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/wallets/"+created.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeWallet(t, rec).ID)
}

func TestGetWallet_NotFound(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/wallets/does-not-exist", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWallets(t *testing.T) {
	router := newTestRouter()
	createWallet(t, router)
	createWallet(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/wallets", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var dtos []api.WalletDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	assert.Len(t, dtos, 2)
}

// =============================================================================
// FUND ROUTE
// =============================================================================

func TestFundWallet(t *testing.T) {
	router := newTestRouter()
	created := createWallet(t, router)

	dto := fundWallet(t, router, created.ID, "5000.23")

	assert.Equal(t, "5000.23", dto.Balance)
}

func TestFundWallet_RejectsExcessPrecision(t *testing.T) {
	// More than 2 fractional digits must be rejected, never truncated.

	router := newTestRouter()
	created := createWallet(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund",
		`{"amount":10.001}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFundWallet_RejectsNonPositive(t *testing.T) {
	router := newTestRouter()
	created := createWallet(t, router)

	for _, amount := range []string{"0", "-5.00"} {
		rec := doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund",
			fmt.Sprintf(`{"amount":%s}`, amount))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %s", amount)
	}
}

func TestFundWallet_NotFound(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/wallets/missing/fund", `{"amount":10.00}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFundWallet_DuplicateKey_Conflict(t *testing.T) {
	router := newTestRouter()
	created := createWallet(t, router)

	body := `{"amount":50.00,"idempotency_key":"k1"}`
	rec := doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/wallets/"+created.ID, "")
	assert.Equal(t, "50.00", decodeWallet(t, rec).Balance)
}

func TestFundWallet_IdempotencyKeyFromHeader(t *testing.T) {
	router := newTestRouter()
	created := createWallet(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund",
		`{"amount":25.00}`, "Idempotency-Key", "h1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/wallets/"+created.ID+"/fund",
		`{"amount":25.00}`, "Idempotency-Key", "h1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// TRANSFER ROUTE
// =============================================================================

func TestTransfer(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	b := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")
	fundWallet(t, router, b.ID, "50.00")

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":%q,"amount":30.00}`, a.ID, b.ID))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.TransferResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "70.00", resp.Sender.Balance)
	assert.Equal(t, "80.00", resp.Receiver.Balance)
}

func TestTransfer_SelfTransfer(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":%q,"amount":10.00}`, a.ID, a.ID))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	b := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":%q,"amount":150.00}`, a.ID, b.ID))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Available: 100.00")
}

func TestTransfer_MissingWallet(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":"missing","amount":10.00}`, a.ID))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransfer_MissingIDs(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", `{"amount":10.00}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfer_DuplicateKey_Conflict(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	b := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")

	body := fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":%q,"amount":30.00,"idempotency_key":"t1"}`,
		a.ID, b.ID)

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/transfers", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// HISTORY ROUTE
// =============================================================================

func TestGetWalletWithTransactions(t *testing.T) {
	router := newTestRouter()
	a := createWallet(t, router)
	b := createWallet(t, router)
	fundWallet(t, router, a.ID, "100.00")

	rec := doRequest(t, router, http.MethodPost, "/api/transfers", fmt.Sprintf(
		`{"sender_wallet_id":%q,"receiver_wallet_id":%q,"amount":30.00}`, a.ID, b.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/wallets/"+a.ID+"/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.WalletWithHistoryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "70.00", resp.Balance)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "transfer_out", resp.Transactions[0].Kind, "newest first")
	assert.Equal(t, "fund", resp.Transactions[1].Kind)
	assert.Equal(t, b.ID, resp.Transactions[0].CounterpartyID)
}

func TestGetWalletWithTransactions_NotFound(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/wallets/missing/transactions", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	router := newTestRouter()

	rec := doRequest(t, router, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
