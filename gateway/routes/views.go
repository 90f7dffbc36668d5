package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"peleon/core/identity"
	"peleon/crypto"
	"peleon/native/wallet"
)

const maxIntentPage = 500

// ContractView is the public rendering of the contract header.
type ContractView struct {
	Variant           string `json:"variant"`
	HashAlgorithm     string `json:"hashAlgorithm"`
	ContractID        string `json:"contractId"`
	OwnerID           string `json:"ownerId"`
	OwnerCredential   string `json:"ownerCredential"`
	ManagerID         string `json:"managerId"`
	ManagerCredential string `json:"managerCredential"`
	GatewayContractID string `json:"gatewayContractId"`
	Paused            bool   `json:"paused"`
	IntentCount       uint64 `json:"intentCount"`
	InitializedAt     uint64 `json:"initializedAt"`
}

// AccountView renders a registry record. SubIdentity is set for accounts
// minted under the contract's own ledger identifier.
type AccountView struct {
	Username    string `json:"username"`
	AccountID   string `json:"accountId"`
	Credential  string `json:"credential,omitempty"`
	Digest      string `json:"digest"`
	SubIdentity bool   `json:"subIdentity"`
	CreatedAt   uint64 `json:"createdAt"`
}

// IntentView renders an outbox intent. Amount and gas are decimal strings.
type IntentView struct {
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	Origin     string `json:"origin"`
	Target     string `json:"target"`
	Recipient  string `json:"recipient,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Owner      string `json:"owner,omitempty"`
	SubAccount string `json:"subAccount,omitempty"`
	Gas        string `json:"gas"`
	Status     string `json:"status"`
	CreatedAt  uint64 `json:"createdAt"`
	UpdatedAt  uint64 `json:"updatedAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func viewIntent(intent *wallet.Intent) IntentView {
	view := IntentView{
		Seq:        intent.Seq,
		Kind:       string(intent.Kind),
		Origin:     intent.Origin,
		Target:     intent.Target,
		Recipient:  intent.Recipient,
		Owner:      intent.Owner,
		SubAccount: intent.SubAccount,
		Gas:        strconv.FormatUint(intent.Gas, 10),
		Status:     intent.Status.String(),
		CreatedAt:  intent.CreatedAt,
		UpdatedAt:  intent.UpdatedAt,
		Reason:     intent.Reason,
	}
	if intent.Amount != nil {
		view.Amount = intent.Amount.String()
	}
	return view
}

func (s *server) getContract(w http.ResponseWriter, r *http.Request) {
	var header *wallet.Header
	err := s.rt.View(r.Context(), func(c *wallet.Contract) error {
		var err error
		header, err = c.Header()
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContractView{
		Variant:           header.Variant,
		HashAlgorithm:     header.HashAlgorithm,
		ContractID:        header.ContractID,
		OwnerID:           header.OwnerID,
		OwnerCredential:   crypto.Credential(header.OwnerCredential).String(),
		ManagerID:         header.ManagerID,
		ManagerCredential: crypto.Credential(header.ManagerCredential).String(),
		GatewayContractID: header.GatewayContractID,
		Paused:            header.Paused,
		IntentCount:       header.IntentSeq,
		InitializedAt:     header.InitializedAt,
	})
}

func (s *server) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var (
		acct     *wallet.Account
		digest   [32]byte
		contract string
	)
	err := s.rt.View(r.Context(), func(c *wallet.Contract) error {
		header, err := c.Header()
		if err != nil {
			return err
		}
		contract = header.ContractID
		acct, digest, err = c.AccountByID(accountID)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := AccountView{
		Username:    acct.Username,
		AccountID:   acct.AccountID,
		Digest:      wallet.DigestHex(digest),
		SubIdentity: identity.IsSubAccountOf(acct.AccountID, contract),
		CreatedAt:   acct.CreatedAt,
	}
	if len(acct.Credential) > 0 {
		view.Credential = crypto.Credential(acct.Credential).String()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) listIntents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit == 0 || limit > maxIntentPage {
		limit = maxIntentPage
	}
	status := r.URL.Query().Get("status")

	var intents []*wallet.Intent
	err = s.rt.View(r.Context(), func(c *wallet.Contract) error {
		var err error
		intents, err = c.Intents(from, int(limit))
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]IntentView, 0, len(intents))
	for _, intent := range intents {
		if status != "" && intent.Status.String() != status {
			continue
		}
		out = append(out, viewIntent(intent))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"intents": out})
}

func (s *server) getIntent(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("seq: %w", err))
		return
	}
	var intent *wallet.Intent
	err = s.rt.View(r.Context(), func(c *wallet.Contract) error {
		var err error
		intent, err = c.Intent(seq)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIntent(intent))
}

func queryUint(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
