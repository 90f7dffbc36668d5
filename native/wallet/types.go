package wallet

import (
	"encoding/hex"
	"math/big"

	"peleon/crypto"
)

// ModuleName identifies the wallet contract for pause checks, metrics and logs.
const ModuleName = "wallet"

// Variant names the authorization policy a contract was deployed with.
type Variant string

const (
	// VariantPeer lets callers register and operate their own account.
	VariantPeer Variant = "peer"
	// VariantHierarchy restricts provisioning and transfers to the owner and
	// manager roles.
	VariantHierarchy Variant = "hierarchy"
)

// Caller carries the identity presented with a call: the ledger identifier
// of the signer and the public key it signed with.
type Caller struct {
	AccountID  string
	Credential crypto.Credential
}

// Account is a registry record.
type Account struct {
	Username   string
	AccountID  string
	Credential []byte
	CreatedAt  uint64
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Credential = append([]byte(nil), a.Credential...)
	return &clone
}

// Header is the contract's fixed state header. Field order is part of the
// storage format.
type Header struct {
	Variant           string
	HashAlgorithm     string
	ContractID        string
	OwnerID           string
	OwnerCredential   []byte
	ManagerID         string
	ManagerCredential []byte
	GatewayContractID string
	Paused            bool
	IntentSeq         uint64
	InitializedAt     uint64
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	clone := *h
	clone.OwnerCredential = append([]byte(nil), h.OwnerCredential...)
	clone.ManagerCredential = append([]byte(nil), h.ManagerCredential...)
	return &clone
}

// IntentKind names the remote operation an intent requests.
type IntentKind string

const (
	IntentCreateRemoteAccount IntentKind = "create_remote_account"
	IntentCreateLedgerAccount IntentKind = "create_ledger_account"
	IntentTransfer            IntentKind = "transfer"
	IntentTotalSupply         IntentKind = "get_total_supply"
	IntentBalance             IntentKind = "get_balance"
)

// Mutating reports whether the intent changes remote state.
func (k IntentKind) Mutating() bool {
	switch k {
	case IntentTotalSupply, IntentBalance:
		return false
	default:
		return true
	}
}

// IntentStatus tracks an intent through the outbox. There is no
// confirmed state: the remote outcome is never observed by the contract.
type IntentStatus uint8

const (
	// IntentPending marks an intent recorded by a committed call and not yet
	// handed to the remote contract.
	IntentPending IntentStatus = iota
	// IntentDispatched marks an intent handed to the remote contract. The
	// host writes it before the remote call, so a dispatched intent is never
	// handed over twice.
	IntentDispatched
	// IntentFailed marks an intent the host could not hand over or whose
	// remote call returned an error. It is not retried.
	IntentFailed
)

// String renders the status for logs and JSON views.
func (s IntentStatus) String() string {
	switch s {
	case IntentPending:
		return "pending"
	case IntentDispatched:
		return "dispatched"
	case IntentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Intent is an outbound, unconfirmed request for a remote effect.
type Intent struct {
	Seq        uint64
	Kind       IntentKind
	Origin     string
	Target     string
	Recipient  string
	Amount     *big.Int
	Owner      string
	SubAccount string
	Gas        uint64
	Status     IntentStatus
	CreatedAt  uint64
	UpdatedAt  uint64
	Reason     string
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	}
	return &clone
}

// DigestHex renders a registry digest for logs and transport.
func DigestHex(d [32]byte) string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a hex registry digest.
func ParseDigest(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != len(out) {
		return out, ErrValidation
	}
	copy(out[:], decoded)
	return out, nil
}
