package wallet

import (
	"peleon/core/events"
	"peleon/crypto"
)

// CreateAccount registers username for caller and records the remote
// provisioning requests that follow it. It returns the ledger identifier
// bound to the new account. A duplicate digest or ledger identifier aborts the
// call before any intent is recorded.
func (c *Contract) CreateAccount(caller Caller, username string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if err := c.guardPaused(); err != nil {
		return "", err
	}
	if err := c.policy.AuthorizeCreate(caller, c.header); err != nil {
		return "", err
	}
	if err := c.requireAccessKey(caller); err != nil {
		return "", err
	}
	acct, err := c.policy.NewAccount(caller, username, c.header)
	if err != nil {
		return "", err
	}
	acct.CreatedAt = c.now()
	digest := c.policy.Digest(c.hasher, acct)
	if err := c.registry.InsertIfAbsent(digest, acct); err != nil {
		return "", err
	}
	c.emitter.Emit(events.AccountCreated{
		Digest:    digest,
		Username:  acct.Username,
		AccountID: acct.AccountID,
		Creator:   caller.AccountID,
	})
	for _, intent := range c.policy.ProvisionIntents(acct, c.header) {
		if _, err := c.record(intent); err != nil {
			return "", err
		}
	}
	return acct.AccountID, nil
}

// TransferOwnership rebinds the owner role. Only the current owner may call it.
func (c *Contract) TransferOwnership(caller Caller, newOwnerID string, newOwnerCredential crypto.Credential) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := RequireOwner(caller, c.header); err != nil {
		return err
	}
	if err := validateRole("owner", newOwnerID, newOwnerCredential); err != nil {
		return err
	}
	previous := c.header.OwnerID
	c.header.OwnerID = newOwnerID
	c.header.OwnerCredential = newOwnerCredential.Bytes()
	if err := c.saveHeader(); err != nil {
		return err
	}
	c.emitter.Emit(events.OwnershipTransferred{PreviousOwnerID: previous, NewOwnerID: newOwnerID})
	return nil
}

// UpdateManager rebinds the manager role. Only the owner may call it.
func (c *Contract) UpdateManager(caller Caller, newManagerID string, newManagerCredential crypto.Credential) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := RequireOwner(caller, c.header); err != nil {
		return err
	}
	if err := validateRole("manager", newManagerID, newManagerCredential); err != nil {
		return err
	}
	previous := c.header.ManagerID
	c.header.ManagerID = newManagerID
	c.header.ManagerCredential = newManagerCredential.Bytes()
	if err := c.saveHeader(); err != nil {
		return err
	}
	c.emitter.Emit(events.ManagerUpdated{PreviousManagerID: previous, NewManagerID: newManagerID})
	return nil
}

// Pause stops account provisioning and transfers. Owner only.
func (c *Contract) Pause(caller Caller) error {
	return c.setPaused(caller, true)
}

// Unpause resumes account provisioning and transfers. Owner only.
func (c *Contract) Unpause(caller Caller) error {
	return c.setPaused(caller, false)
}

func (c *Contract) setPaused(caller Caller, paused bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := RequireOwner(caller, c.header); err != nil {
		return err
	}
	if c.header.Paused == paused {
		return nil
	}
	c.header.Paused = paused
	if err := c.saveHeader(); err != nil {
		return err
	}
	c.emitter.Emit(events.WalletPauseToggled{Paused: paused, By: caller.AccountID})
	return nil
}

// Header returns a copy of the contract header.
func (c *Contract) Header() (*Header, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.header.Clone(), nil
}

// Account returns the account stored under digest.
func (c *Contract) Account(digest [32]byte) (*Account, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.registry.Require(digest)
}

// AccountByID returns the account bound to a ledger identifier together with
// its registry digest.
func (c *Contract) AccountByID(accountID string) (*Account, [32]byte, error) {
	if err := c.ready(); err != nil {
		return nil, [32]byte{}, err
	}
	return c.registry.LookupByAccountID(accountID)
}

// Digest returns the registry key the contract's policy assigns to acct.
func (c *Contract) Digest(acct *Account) ([32]byte, error) {
	if err := c.ready(); err != nil {
		return [32]byte{}, err
	}
	if acct == nil {
		return [32]byte{}, ErrValidation
	}
	return c.policy.Digest(c.hasher, acct), nil
}
