package wallet

import (
	"fmt"

	"peleon/crypto"
)

// RequireOwner succeeds when the caller presents the owner credential.
func RequireOwner(caller Caller, header *Header) error {
	if header == nil {
		return ErrUninitialized
	}
	if !caller.Credential.Equal(header.OwnerCredential) {
		return fmt.Errorf("%w: owner credential required", ErrUnauthorized)
	}
	return nil
}

// RequireManagerOrOwner succeeds when the caller presents the manager or the
// owner credential.
func RequireManagerOrOwner(caller Caller, header *Header) error {
	if header == nil {
		return ErrUninitialized
	}
	if caller.Credential.Equal(header.ManagerCredential) || caller.Credential.Equal(header.OwnerCredential) {
		return nil
	}
	return fmt.Errorf("%w: manager or owner credential required", ErrUnauthorized)
}

// RequireSelf succeeds when the caller presents the credential stored on acct.
func RequireSelf(caller Caller, acct *Account) error {
	if acct == nil {
		return ErrNotFound
	}
	if !caller.Credential.Equal(crypto.Credential(acct.Credential)) {
		return fmt.Errorf("%w: credential does not match account %s", ErrUnauthorized, acct.AccountID)
	}
	return nil
}
