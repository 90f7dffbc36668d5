package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"peleon/core/runtime"
	"peleon/core/types"
	"peleon/crypto"
	"peleon/gateway/auth"
	"peleon/native/wallet"
	"peleon/observability/logging"
)

// Contract methods accepted by POST /v1/calls/{method}.
const (
	MethodInitialize        = "initialize"
	MethodCreateAccount     = "create_account"
	MethodTransfer          = "transfer"
	MethodGetTotalSupply    = "get_total_supply"
	MethodGetBalance        = "get_balance"
	MethodTransferOwnership = "transfer_ownership"
	MethodUpdateManager     = "update_manager"
	MethodPause             = "pause"
	MethodUnpause           = "unpause"
)

type initializeRequest struct {
	Variant           string `json:"variant"`
	ContractID        string `json:"contractId"`
	HashAlgorithm     string `json:"hashAlgorithm,omitempty"`
	ManagerID         string `json:"managerId"`
	ManagerCredential string `json:"managerCredential"`
	GatewayContractID string `json:"gatewayContractId"`
}

type createAccountRequest struct {
	Username string `json:"username"`
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type balanceRequest struct {
	Owner string `json:"owner"`
}

type roleRequest struct {
	AccountID  string `json:"accountId"`
	Credential string `json:"credential"`
}

// CallResponse is returned for every accepted call.
type CallResponse struct {
	Method  string         `json:"method"`
	Result  interface{}    `json:"result,omitempty"`
	Intents []IntentView   `json:"intents,omitempty"`
	Events  []*types.Event `json:"events,omitempty"`
}

// QueryResult carries a remote query answer. Query numbers come from a
// sequence of their own; queries never occupy an outbox slot. Pending is set
// when the answer did not arrive before the gateway stopped waiting.
type QueryResult struct {
	Query   uint64 `json:"query"`
	Value   string `json:"value,omitempty"`
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *server) postCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	caller, err := s.verifier.Authenticate(r, body)
	if err != nil {
		s.logger.Debug("call rejected",
			"account", r.Header.Get(auth.HeaderAccount),
			"nonce", logging.Shorten(r.Header.Get(auth.HeaderNonce)),
			"error", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	method := chi.URLParam(r, "method")
	ctx := r.Context()

	var (
		receipt *runtime.Receipt
		result  interface{}
		callErr error
	)
	switch method {
	case MethodInitialize:
		var req initializeRequest
		if !decode(w, body, &req) {
			return
		}
		params, err := req.params()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		receipt, callErr = s.rt.Initialize(ctx, caller, params)
	case MethodCreateAccount:
		var req createAccountRequest
		if !decode(w, body, &req) {
			return
		}
		var accountID string
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			var err error
			accountID, err = c.CreateAccount(caller, req.Username)
			return err
		})
		result = map[string]string{"accountId": accountID}
	case MethodTransfer:
		var req transferRequest
		if !decode(w, body, &req) {
			return
		}
		amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("amount: %w", err))
			return
		}
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			_, err := c.Transfer(caller, req.Recipient, amount)
			return err
		})
	case MethodGetTotalSupply:
		if !decode(w, body, &struct{}{}) {
			return
		}
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			_, err := c.GetTotalSupply(caller)
			return err
		})
	case MethodGetBalance:
		var req balanceRequest
		if !decode(w, body, &req) {
			return
		}
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			_, err := c.GetBalance(caller, req.Owner)
			return err
		})
	case MethodTransferOwnership, MethodUpdateManager:
		var req roleRequest
		if !decode(w, body, &req) {
			return
		}
		cred, err := crypto.ParseCredential(req.Credential)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("credential: %w", err))
			return
		}
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			if method == MethodTransferOwnership {
				return c.TransferOwnership(caller, req.AccountID, cred)
			}
			return c.UpdateManager(caller, req.AccountID, cred)
		})
	case MethodPause, MethodUnpause:
		if !decode(w, body, &struct{}{}) {
			return
		}
		receipt, callErr = s.rt.Execute(ctx, method, func(c *wallet.Contract) error {
			if method == MethodPause {
				return c.Pause(caller)
			}
			return c.Unpause(caller)
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown method %q", method))
		return
	}
	if callErr != nil {
		s.fail(w, r, callErr)
		return
	}

	if len(receipt.Promises) > 0 {
		result = s.awaitQuery(ctx, receipt.Promises[0])
	}
	resp := CallResponse{Method: method, Result: result, Events: receipt.Events}
	for _, intent := range receipt.Intents {
		resp.Intents = append(resp.Intents, viewIntent(intent))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) awaitQuery(ctx context.Context, promise *wallet.Promise) QueryResult {
	waitCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	out := QueryResult{Query: promise.Seq()}
	value, err := promise.Await(waitCtx)
	switch {
	case err == nil:
		out.Value = value.Dec()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		out.Pending = true
	default:
		out.Error = err.Error()
	}
	return out
}

func (req initializeRequest) params() (wallet.InitParams, error) {
	cred, err := crypto.ParseCredential(req.ManagerCredential)
	if err != nil {
		return wallet.InitParams{}, fmt.Errorf("managerCredential: %w", err)
	}
	return wallet.InitParams{
		Variant:           wallet.Variant(req.Variant),
		ContractID:        req.ContractID,
		HashAlgorithm:     req.HashAlgorithm,
		ManagerID:         req.ManagerID,
		ManagerCredential: cred,
		GatewayContractID: req.GatewayContractID,
	}, nil
}

// decode parses a strict JSON body; an empty body decodes as {}.
func decode(w http.ResponseWriter, body []byte, out interface{}) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}
