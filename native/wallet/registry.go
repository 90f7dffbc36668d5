package wallet

import (
	"fmt"
)

// kvState abstracts the subset of state manager functionality required by
// the wallet contract.
type kvState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVHas(key []byte) (bool, error)
}

var (
	headerKey        = []byte("wallet/header")
	accountPrefix    = []byte("wallet/account/")
	accountIndexPref = []byte("wallet/account-id/")
	intentPrefix     = []byte("wallet/intent/")
)

func accountKey(digest [32]byte) []byte {
	key := make([]byte, len(accountPrefix)+len(digest))
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], digest[:])
	return key
}

func accountIndexKey(accountID string) []byte {
	key := make([]byte, len(accountIndexPref)+len(accountID))
	copy(key, accountIndexPref)
	copy(key[len(accountIndexPref):], accountID)
	return key
}

// Registry maps identity digests to account records. A secondary index maps
// each ledger identifier to the digest of the account bound to it.
type Registry struct {
	state kvState
}

// NewRegistry constructs a registry over the provided state.
func NewRegistry(state kvState) *Registry {
	return &Registry{state: state}
}

// Get returns the account stored under digest.
func (r *Registry) Get(digest [32]byte) (*Account, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, ErrUninitialized
	}
	var acct Account
	ok, err := r.state.KVGet(accountKey(digest), &acct)
	if err != nil {
		return nil, false, fmt.Errorf("wallet: load account: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &acct, true, nil
}

// Require returns the account stored under digest or ErrNotFound.
func (r *Registry) Require(digest [32]byte) (*Account, error) {
	acct, ok, err := r.Get(digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: digest %s", ErrNotFound, DigestHex(digest))
	}
	return acct, nil
}

// InsertIfAbsent stores acct under digest. Both the digest and the account's
// ledger identifier must be unused; otherwise ErrDuplicate is returned and
// nothing is written. Both checks run before either write.
//
// The ledger identifier check is stricter than the digest alone: a peer that
// registers the same account_id again under a new credential produces a new
// digest but still fails with ErrDuplicate, so one ledger identifier never
// backs two accounts.
func (r *Registry) InsertIfAbsent(digest [32]byte, acct *Account) error {
	if r == nil || r.state == nil {
		return ErrUninitialized
	}
	if acct == nil {
		return fmt.Errorf("%w: nil account", ErrValidation)
	}
	if _, exists, err := r.Get(digest); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: digest %s", ErrDuplicate, DigestHex(digest))
	}
	exists, err := r.state.KVHas(accountIndexKey(acct.AccountID))
	if err != nil {
		return fmt.Errorf("wallet: load account index: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: ledger identifier %s", ErrDuplicate, acct.AccountID)
	}
	if err := r.state.KVPut(accountKey(digest), acct.Clone()); err != nil {
		return fmt.Errorf("wallet: store account: %w", err)
	}
	if err := r.state.KVPut(accountIndexKey(acct.AccountID), digest); err != nil {
		return fmt.Errorf("wallet: store account index: %w", err)
	}
	return nil
}

// LookupByAccountID resolves the account bound to a ledger identifier.
func (r *Registry) LookupByAccountID(accountID string) (*Account, [32]byte, error) {
	var digest [32]byte
	if r == nil || r.state == nil {
		return nil, digest, ErrUninitialized
	}
	ok, err := r.state.KVGet(accountIndexKey(accountID), &digest)
	if err != nil {
		return nil, digest, fmt.Errorf("wallet: load account index: %w", err)
	}
	if !ok {
		return nil, digest, fmt.Errorf("%w: ledger identifier %s", ErrNotFound, accountID)
	}
	acct, err := r.Require(digest)
	if err != nil {
		return nil, digest, err
	}
	return acct, digest, nil
}
