package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"peleon/core/accounts"
	"peleon/core/events"
	"peleon/core/runtime"
	"peleon/crypto"
	"peleon/gateway/auth"
	"peleon/gateway/middleware"
	"peleon/native/token"
	"peleon/observability/logging"
	"peleon/storage"
)

const operatorSecret = "operator-secret"

type signer struct {
	account string
	key     *crypto.PrivateKey
}

type gatewayHarness struct {
	handler http.Handler
	ledger  *token.Ledger
	keys    *accounts.Keyring
	owner   signer
	manager signer
	nonce   atomic.Uint64
}

func newSigner(t *testing.T, account string) signer {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return signer{account: account, key: key}
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	db := storage.NewMemDB()
	logger := logging.Discard()
	fanout := events.NewFanout()
	ledger := token.NewLedger(db, "CHIRON")
	keys := accounts.NewKeyring(db, accounts.WithReserved(ledger.HasAccount))
	rt := runtime.New(db, runtime.WithEmitter(fanout), runtime.WithLogger(logger), runtime.WithAccessKeys(keys))
	d := runtime.NewDispatcher(ledger, rt, runtime.WithDispatchLogger(logger), runtime.WithDispatchEmitter(fanout))
	rt.SetSink(d)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	handler, err := New(Config{
		Runtime:       rt,
		Verifier:      auth.NewVerifier(auth.Options{Keys: keys}),
		OperatorAuth:  middleware.NewOperatorAuth(middleware.OperatorAuthConfig{HMACSecret: operatorSecret}, logger),
		Observability: middleware.NewObservability(prometheus.NewRegistry(), logger),
		Events:        fanout,
		AccessKeys:    keys,
		QueryTimeout:  2 * time.Second,
		Logger:        logger,
	})
	require.NoError(t, err)
	return &gatewayHarness{
		handler: handler,
		ledger:  ledger,
		keys:    keys,
		owner:   newSigner(t, "owner.ledger"),
		manager: newSigner(t, "m.ledger"),
	}
}

func (h *gatewayHarness) call(t *testing.T, as signer, method string, payload interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/"+method, bytes.NewReader(body))
	nonce := fmt.Sprintf("n-%d", h.nonce.Add(1))
	require.NoError(t, auth.SignRequest(req, as.key, as.account, nonce, body, time.Now()))
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	var out map[string]interface{}
	_ = json.Unmarshal(res.Body.Bytes(), &out)
	return res, out
}

func (h *gatewayHarness) initialize(t *testing.T) {
	t.Helper()
	res, _ := h.call(t, h.owner, MethodInitialize, map[string]string{
		"variant":           "peer",
		"contractId":        "wallet.ledger",
		"managerId":         h.manager.account,
		"managerCredential": h.manager.key.PubKey().Credential().String(),
		"gatewayContractId": "chiron.ledger",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"scope": middleware.ScopeOperator,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(operatorSecret))
	require.NoError(t, err)
	return token
}

func TestCallsRequireSignature(t *testing.T) {
	h := newGatewayHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/create_account", bytes.NewReader([]byte(`{"username":"alice"}`)))
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCallBeforeInitialize(t *testing.T) {
	h := newGatewayHarness(t)
	res, body := h.call(t, newSigner(t, "alice.ledger"), MethodCreateAccount, map[string]string{"username": "alice"})
	require.Equal(t, http.StatusPreconditionFailed, res.Code)
	require.Equal(t, "uninitialized", body["kind"])
}

func TestInitializeTwiceConflicts(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	res, body := h.call(t, h.owner, MethodInitialize, map[string]string{
		"variant":           "peer",
		"contractId":        "wallet.ledger",
		"managerId":         h.manager.account,
		"managerCredential": h.manager.key.PubKey().Credential().String(),
		"gatewayContractId": "chiron.ledger",
	})
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "already_initialized", body["kind"])
}

func TestCreateAccountAndQueries(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	alice := newSigner(t, "alice.ledger")

	res, body := h.call(t, alice, MethodCreateAccount, map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "alice.ledger", body["result"].(map[string]interface{})["accountId"])
	intents := body["intents"].([]interface{})
	require.Len(t, intents, 1)
	require.Equal(t, "create_remote_account", intents[0].(map[string]interface{})["kind"])
	require.Equal(t, "chiron.ledger", intents[0].(map[string]interface{})["target"])

	res, body = h.call(t, alice, MethodCreateAccount, map[string]string{"username": "alice"})
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "duplicate", body["kind"])

	require.Eventually(t, func() bool {
		ok, err := h.ledger.HasAccount(context.Background(), "alice.ledger")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.ledger.Mint(context.Background(), "alice.ledger", uint256.NewInt(1000)))

	res, body = h.call(t, alice, MethodGetTotalSupply, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "1000", body["result"].(map[string]interface{})["value"])
	require.Nil(t, body["intents"])

	res, body = h.call(t, alice, MethodGetBalance, map[string]string{"owner": "nobody.ledger"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "0", body["result"].(map[string]interface{})["value"])
}

func TestCallValidation(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	alice := newSigner(t, "alice.ledger")

	res, _ := h.call(t, alice, MethodTransfer, map[string]string{"recipient": "bob.ledger", "amount": "ten"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = h.call(t, alice, MethodCreateAccount, map[string]string{"username": "alice", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = h.call(t, alice, "self_destruct", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res, body := h.call(t, alice, MethodTransfer, map[string]string{"recipient": "bob.ledger", "amount": "10"})
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Equal(t, "not_found", body["kind"])
}

func TestPauseIsOwnerOnly(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)

	res, body := h.call(t, h.manager, MethodPause, nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "unauthorized", body["kind"])

	res, _ = h.call(t, h.owner, MethodPause, nil)
	require.Equal(t, http.StatusOK, res.Code)

	res, body = h.call(t, newSigner(t, "alice.ledger"), MethodCreateAccount, map[string]string{"username": "alice"})
	require.Equal(t, http.StatusLocked, res.Code)
	require.Equal(t, "paused", body["kind"])

	res, _ = h.call(t, h.owner, MethodUnpause, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestOperatorViews(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	alice := newSigner(t, "alice.ledger")
	res, _ := h.call(t, alice, MethodCreateAccount, map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, res.Code)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, get("/v1/intents", "").Code)

	token := operatorToken(t)
	rec := get("/v1/intents", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Intents []IntentView `json:"intents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Intents, 1)
	require.Equal(t, "1000000000000000000", list.Intents[0].Gas)

	rec = get("/v1/intents/1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, get("/v1/intents/9", token).Code)

	rec = get("/v1/accounts/alice.ledger", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var acct AccountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	require.Equal(t, "alice", acct.Username)
	require.Equal(t, alice.key.PubKey().Credential().String(), acct.Credential)
	require.Len(t, acct.Digest, 64)
	require.False(t, acct.SubIdentity)

	rec = get("/v1/contract", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var contract ContractView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contract))
	require.Equal(t, "peer", contract.Variant)
	require.Equal(t, "owner.ledger", contract.OwnerID)
	require.Equal(t, uint64(1), contract.IntentCount)

	require.Equal(t, http.StatusOK, get("/healthz", "").Code)
}

func TestSquattedLedgerIdentityIsRejected(t *testing.T) {
	h := newGatewayHarness(t)
	h.initialize(t)
	ctx := context.Background()
	treasurer := newSigner(t, "treasury.ledger")
	require.NoError(t, h.ledger.CreateLedgerAccount(ctx, treasurer.account, token.CreateAccountGas))
	require.NoError(t, h.ledger.Mint(ctx, treasurer.account, uint256.NewInt(1000)))
	require.NoError(t, h.keys.AddKey(ctx, treasurer.account, treasurer.key.PubKey().Credential()))

	attacker := newSigner(t, treasurer.account)
	res, _ := h.call(t, attacker, MethodCreateAccount, map[string]string{"username": "treasury"})
	require.Equal(t, http.StatusUnauthorized, res.Code, res.Body.String())
	res, _ = h.call(t, attacker, MethodTransfer, map[string]string{"recipient": "mallory.ledger", "amount": "900"})
	require.Equal(t, http.StatusUnauthorized, res.Code, res.Body.String())

	// A funded account nobody holds a key for cannot be claimed either.
	require.NoError(t, h.ledger.CreateLedgerAccount(ctx, "vault.ledger", token.CreateAccountGas))
	res, _ = h.call(t, newSigner(t, "vault.ledger"), MethodCreateAccount, map[string]string{"username": "vault"})
	require.Equal(t, http.StatusUnauthorized, res.Code, res.Body.String())

	res, _ = h.call(t, treasurer, MethodCreateAccount, map[string]string{"username": "treasury"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	balance, err := h.ledger.BalanceOf(ctx, treasurer.account, token.QueryGas)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance.Uint64())
}

func TestOperatorAccessKeys(t *testing.T) {
	h := newGatewayHarness(t)
	token := operatorToken(t)
	key := newSigner(t, "treasury.ledger").key.PubKey().Credential()

	send := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPut, "/v1/access-keys/treasury.ledger", []byte(`{"credential":"`+key.String()+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view AccessKeysView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, []string{key.String()}, view.Keys)

	require.Equal(t, http.StatusBadRequest, send(http.MethodPut, "/v1/access-keys/treasury.ledger", []byte(`{"credential":"nope"}`)).Code)
	require.Equal(t, http.StatusNoContent, send(http.MethodDelete, "/v1/access-keys/treasury.ledger/"+key.String(), nil).Code)
	require.Equal(t, http.StatusNotFound, send(http.MethodDelete, "/v1/access-keys/treasury.ledger/"+key.String(), nil).Code)

	rec = send(http.MethodGet, "/v1/access-keys/treasury.ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Empty(t, view.Keys)
}
