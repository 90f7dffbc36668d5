// Package accounts binds ledger account identifiers to the credentials
// allowed to sign for them. The gateway consults it before a recovered
// signing key may act as the account named in a request, and the wallet
// contract consults it before treating a caller as the principal of a
// ledger identifier.
package accounts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"peleon/core/events"
	"peleon/core/identity"
	"peleon/core/state"
	"peleon/crypto"
	"peleon/storage"
)

// Namespace isolates access-key state from the contract and the token ledger.
const Namespace = "accounts"

var (
	ErrKeyMismatch   = errors.New("accounts: credential is not an access key of the account")
	ErrAccountLocked = errors.New("accounts: account has no access keys and cannot be claimed")
	ErrUnknownKey    = errors.New("accounts: unknown access key")
	ErrInvalidKey    = errors.New("accounts: invalid access key")
)

var keyPrefix = []byte("accounts/keys/")

func keysKey(accountID string) []byte {
	return append(append([]byte(nil), keyPrefix...), accountID...)
}

type keyRecord struct {
	Keys [][]byte
}

func (r *keyRecord) index(cred crypto.Credential) int {
	for i, key := range r.Keys {
		if bytes.Equal(key, cred) {
			return i
		}
	}
	return -1
}

// ReservedFunc reports whether an account without access keys must stay
// unclaimable, for instance because it already holds a ledger balance.
type ReservedFunc func(ctx context.Context, accountID string) (bool, error)

// Option configures a Keyring.
type Option func(*Keyring)

// WithReserved installs the check deciding which keyless accounts may not be
// claimed by their first signer.
func WithReserved(fn ReservedFunc) Option {
	return func(k *Keyring) { k.reserved = fn }
}

// WithEmitter publishes access-key events.
func WithEmitter(emitter events.Emitter) Option {
	return func(k *Keyring) {
		if emitter != nil {
			k.emitter = emitter
		}
	}
}

// Keyring stores the access keys of ledger accounts.
type Keyring struct {
	mu       sync.Mutex
	db       storage.Database
	reserved ReservedFunc
	emitter  events.Emitter
}

// NewKeyring constructs a keyring persisting into db.
func NewKeyring(db storage.Database, opts ...Option) *Keyring {
	k := &Keyring{db: db, emitter: events.NoopEmitter{}}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

func validate(accountID string, cred crypto.Credential) error {
	if err := identity.ValidateAccountID(accountID); err != nil {
		return fmt.Errorf("%w: account: %v", ErrInvalidKey, err)
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

func load(st *state.Manager, accountID string) (*keyRecord, error) {
	var rec keyRecord
	if _, err := st.KVGet(keysKey(accountID), &rec); err != nil {
		return nil, fmt.Errorf("accounts: load keys: %w", err)
	}
	return &rec, nil
}

func (k *Keyring) update(fn func(*state.Manager, events.Emitter) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	st := state.NewManager(k.db, Namespace)
	var buf events.Buffer
	if err := fn(st, &buf); err != nil {
		st.Revert()
		return err
	}
	if err := st.Commit(); err != nil {
		return err
	}
	for _, evt := range buf.Drain() {
		k.emitter.Emit(evt)
	}
	return nil
}

// AddKey grants cred the right to sign for accountID. Adding a key the
// account already holds is a no-op.
func (k *Keyring) AddKey(ctx context.Context, accountID string, cred crypto.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(accountID, cred); err != nil {
		return err
	}
	return k.update(func(st *state.Manager, emit events.Emitter) error {
		return addKey(st, emit, accountID, cred, false)
	})
}

func addKey(st *state.Manager, emit events.Emitter, accountID string, cred crypto.Credential, claimed bool) error {
	rec, err := load(st, accountID)
	if err != nil {
		return err
	}
	if rec.index(cred) >= 0 {
		return nil
	}
	rec.Keys = append(rec.Keys, cred.Bytes())
	if err := st.KVPut(keysKey(accountID), rec); err != nil {
		return fmt.Errorf("accounts: store keys: %w", err)
	}
	emit.Emit(events.AccessKeyAdded{AccountID: accountID, Credential: cred.String(), Claimed: claimed})
	return nil
}

// RemoveKey revokes cred. Removing the last key leaves the account keyless,
// which makes it claimable again unless it is reserved.
func (k *Keyring) RemoveKey(ctx context.Context, accountID string, cred crypto.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.update(func(st *state.Manager, emit events.Emitter) error {
		rec, err := load(st, accountID)
		if err != nil {
			return err
		}
		i := rec.index(cred)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownKey, accountID)
		}
		rec.Keys = append(rec.Keys[:i], rec.Keys[i+1:]...)
		if len(rec.Keys) == 0 {
			err = st.KVDelete(keysKey(accountID))
		} else {
			err = st.KVPut(keysKey(accountID), rec)
		}
		if err != nil {
			return fmt.Errorf("accounts: store keys: %w", err)
		}
		emit.Emit(events.AccessKeyRemoved{AccountID: accountID, Credential: cred.String()})
		return nil
	})
}

// Keys lists the access keys of accountID.
func (k *Keyring) Keys(ctx context.Context, accountID string) ([]crypto.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, err := load(state.NewManager(k.db, Namespace), accountID)
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Credential, 0, len(rec.Keys))
	for _, key := range rec.Keys {
		out = append(out, crypto.Credential(key))
	}
	return out, nil
}

// HasKey reports whether cred is an access key of accountID.
func (k *Keyring) HasKey(accountID string, cred crypto.Credential) (bool, error) {
	if cred.IsZero() {
		return false, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, err := load(state.NewManager(k.db, Namespace), accountID)
	if err != nil {
		return false, err
	}
	return rec.index(cred) >= 0, nil
}

// Authorize admits cred as a signer for accountID. An account with access
// keys accepts only those keys. A keyless account is claimed by its first
// signer, whose key becomes the account's access key, unless the reserved
// check refuses it.
func (k *Keyring) Authorize(ctx context.Context, accountID string, cred crypto.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(accountID, cred); err != nil {
		return err
	}
	return k.update(func(st *state.Manager, emit events.Emitter) error {
		exists, err := st.KVHas(keysKey(accountID))
		if err != nil {
			return fmt.Errorf("accounts: load keys: %w", err)
		}
		if exists {
			rec, err := load(st, accountID)
			if err != nil {
				return err
			}
			if rec.index(cred) < 0 {
				return fmt.Errorf("%w: %s", ErrKeyMismatch, accountID)
			}
			return nil
		}
		if k.reserved != nil {
			reserved, err := k.reserved(ctx, accountID)
			if err != nil {
				return err
			}
			if reserved {
				return fmt.Errorf("%w: %s", ErrAccountLocked, accountID)
			}
		}
		return addKey(st, emit, accountID, cred, true)
	})
}
