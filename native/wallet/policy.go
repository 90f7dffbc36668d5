package wallet

import (
	"fmt"

	"peleon/core/identity"
)

// Policy captures the behaviour that differs between deployment variants:
// who may provision and transfer, how ledger identifiers are derived and which
// identity fields feed the registry digest.
type Policy interface {
	Variant() Variant
	// AuthorizeCreate gates account provisioning.
	AuthorizeCreate(caller Caller, header *Header) error
	// NewAccount derives the record to insert for username.
	NewAccount(caller Caller, username string, header *Header) (*Account, error)
	// Digest returns the registry key of acct.
	Digest(h Hasher, acct *Account) [32]byte
	// ProvisionIntents lists the remote requests that follow a successful insert.
	ProvisionIntents(acct *Account, header *Header) []Intent
	// AuthorizeTransfer gates transfers and returns the ledger identifier
	// debited by the remote transfer.
	AuthorizeTransfer(caller Caller, header *Header, reg *Registry) (string, error)
}

// PolicyFor returns the policy implementing variant.
func PolicyFor(variant Variant) (Policy, error) {
	switch variant {
	case VariantPeer:
		return PeerPolicy{}, nil
	case VariantHierarchy:
		return HierarchyPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrValidation, variant)
	}
}

// PeerPolicy binds each account to the ledger identifier and credential of
// the caller that registered it. Only that caller may move its funds. A
// ledger identifier registers once: the same account_id presented later with
// a different credential is refused with ErrDuplicate by the registry, and
// when the host supplies access keys the credential must be one of the
// account's keys to register at all.
type PeerPolicy struct{}

// Variant implements Policy.
func (PeerPolicy) Variant() Variant { return VariantPeer }

// AuthorizeCreate implements Policy.
func (PeerPolicy) AuthorizeCreate(caller Caller, _ *Header) error {
	if err := identity.ValidateAccountID(caller.AccountID); err != nil {
		return fmt.Errorf("%w: caller: %v", ErrValidation, err)
	}
	if err := caller.Credential.Validate(); err != nil {
		return fmt.Errorf("%w: caller: %v", ErrValidation, err)
	}
	return nil
}

// NewAccount implements Policy.
func (PeerPolicy) NewAccount(caller Caller, username string, _ *Header) (*Account, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &Account{
		Username:   username,
		AccountID:  caller.AccountID,
		Credential: caller.Credential.Bytes(),
	}, nil
}

// Digest implements Policy: Hash(account_id ++ credential).
func (PeerPolicy) Digest(h Hasher, acct *Account) [32]byte {
	return h.Digest([]byte(acct.AccountID), acct.Credential)
}

// ProvisionIntents implements Policy.
func (PeerPolicy) ProvisionIntents(acct *Account, header *Header) []Intent {
	return []Intent{{
		Kind:   IntentCreateRemoteAccount,
		Origin: acct.AccountID,
		Target: header.GatewayContractID,
	}}
}

// AuthorizeTransfer implements Policy.
func (PeerPolicy) AuthorizeTransfer(caller Caller, _ *Header, reg *Registry) (string, error) {
	acct, _, err := reg.LookupByAccountID(caller.AccountID)
	if err != nil {
		return "", err
	}
	if err := RequireSelf(caller, acct); err != nil {
		return "", err
	}
	return acct.AccountID, nil
}

// HierarchyPolicy lets the owner and manager provision sub-identities under
// the contract's own ledger identifier and move the contract's funds.
type HierarchyPolicy struct{}

// Variant implements Policy.
func (HierarchyPolicy) Variant() Variant { return VariantHierarchy }

// AuthorizeCreate implements Policy.
func (HierarchyPolicy) AuthorizeCreate(caller Caller, header *Header) error {
	return RequireManagerOrOwner(caller, header)
}

// NewAccount implements Policy.
func (HierarchyPolicy) NewAccount(_ Caller, username string, header *Header) (*Account, error) {
	accountID, err := identity.SubAccount(username, header.ContractID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &Account{Username: username, AccountID: accountID}, nil
}

// Digest implements Policy: Hash(username ++ account_id).
func (HierarchyPolicy) Digest(h Hasher, acct *Account) [32]byte {
	return h.Digest([]byte(acct.Username), []byte(acct.AccountID))
}

// ProvisionIntents implements Policy.
func (HierarchyPolicy) ProvisionIntents(acct *Account, header *Header) []Intent {
	return []Intent{{
		Kind:       IntentCreateLedgerAccount,
		Origin:     header.ContractID,
		Target:     header.ContractID,
		SubAccount: acct.AccountID,
	}}
}

// AuthorizeTransfer implements Policy.
func (HierarchyPolicy) AuthorizeTransfer(caller Caller, header *Header, _ *Registry) (string, error) {
	if err := RequireManagerOrOwner(caller, header); err != nil {
		return "", err
	}
	return header.ContractID, nil
}
