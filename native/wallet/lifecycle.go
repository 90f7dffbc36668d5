package wallet

import (
	"fmt"
	"time"

	"peleon/core/events"
	"peleon/core/identity"
	"peleon/crypto"
)

// DefaultSingleCallGas is the gas budget attached to every remote call.
const DefaultSingleCallGas uint64 = 1_000_000_000_000_000_000

// InitParams are the deployment arguments bound by Initialize. The deploying
// caller becomes the owner.
type InitParams struct {
	Variant           Variant
	ContractID        string
	HashAlgorithm     string
	ManagerID         string
	ManagerCredential crypto.Credential
	GatewayContractID string
}

// Contract is the wallet contract bound to one call's state. A Contract is
// only usable after Initialize or Load succeeded; the zero value and a nil
// *Contract reject every entry point with ErrUninitialized.
type Contract struct {
	state    kvState
	header   *Header
	policy   Policy
	hasher   Hasher
	registry *Registry
	gas      uint64
	emitter  events.Emitter
	nowFn    func() time.Time
	keys     AccessKeys
	querySeq func() uint64
	queries  uint64
	outbound []Outbound
}

// AccessKeys is the host's view of which credentials may sign for a ledger
// account.
type AccessKeys interface {
	HasKey(accountID string, cred crypto.Credential) (bool, error)
}

// New constructs an unbound contract over state.
func New(state kvState) *Contract {
	return &Contract{
		state:   state,
		gas:     DefaultSingleCallGas,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter overrides the event emitter.
func (c *Contract) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the clock used for record timestamps. Passing nil
// restores the default UTC clock.
func (c *Contract) SetNowFunc(now func() time.Time) {
	if c == nil {
		return
	}
	if now == nil {
		c.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	c.nowFn = now
}

// SetAccessKeys makes CreateAccount and Transfer require the caller's
// credential to be an access key of the caller's ledger identifier. Without
// it the caller identity is taken as presented.
func (c *Contract) SetAccessKeys(keys AccessKeys) {
	if c == nil {
		return
	}
	c.keys = keys
}

// SetQuerySequence overrides the source of query sequence numbers. Queries
// are never stored, so the host supplies a counter that outlives a single
// call.
func (c *Contract) SetQuerySequence(next func() uint64) {
	if c == nil {
		return
	}
	c.querySeq = next
}

// SetSingleCallGas overrides the gas attached to remote calls. Zero restores
// the default.
func (c *Contract) SetSingleCallGas(gas uint64) {
	if c == nil {
		return
	}
	if gas == 0 {
		gas = DefaultSingleCallGas
	}
	c.gas = gas
}

// SingleCallGas returns the gas attached to remote calls.
func (c *Contract) SingleCallGas() uint64 {
	if c == nil || c.gas == 0 {
		return DefaultSingleCallGas
	}
	return c.gas
}

// Initialize binds the contract header. It runs once per state; a second call
// fails with ErrAlreadyInitialized and leaves the header untouched.
func (c *Contract) Initialize(caller Caller, params InitParams) error {
	if c == nil || c.state == nil {
		return ErrUninitialized
	}
	var existing Header
	ok, err := c.state.KVGet(headerKey, &existing)
	if err != nil {
		return fmt.Errorf("wallet: load header: %w", err)
	}
	if ok {
		return ErrAlreadyInitialized
	}

	policy, err := PolicyFor(params.Variant)
	if err != nil {
		return err
	}
	hasher, err := NewHasher(params.HashAlgorithm)
	if err != nil {
		return err
	}
	if err := validateID("contract", params.ContractID); err != nil {
		return err
	}
	if err := validateRole("owner", caller.AccountID, caller.Credential); err != nil {
		return err
	}
	if err := validateRole("manager", params.ManagerID, params.ManagerCredential); err != nil {
		return err
	}
	if err := validateID("gateway", params.GatewayContractID); err != nil {
		return err
	}

	header := &Header{
		Variant:           string(policy.Variant()),
		HashAlgorithm:     hasher.Algorithm(),
		ContractID:        params.ContractID,
		OwnerID:           caller.AccountID,
		OwnerCredential:   caller.Credential.Bytes(),
		ManagerID:         params.ManagerID,
		ManagerCredential: params.ManagerCredential.Bytes(),
		GatewayContractID: params.GatewayContractID,
		InitializedAt:     c.now(),
	}
	if err := c.state.KVPut(headerKey, header); err != nil {
		return fmt.Errorf("wallet: store header: %w", err)
	}
	c.bind(header, policy, hasher)
	c.emitter.Emit(events.WalletInitialized{
		ContractID:        header.ContractID,
		Variant:           header.Variant,
		OwnerID:           header.OwnerID,
		ManagerID:         header.ManagerID,
		GatewayContractID: header.GatewayContractID,
	})
	return nil
}

// Load binds the contract to the header already present in state.
func (c *Contract) Load() error {
	if c == nil || c.state == nil {
		return ErrUninitialized
	}
	var header Header
	ok, err := c.state.KVGet(headerKey, &header)
	if err != nil {
		return fmt.Errorf("wallet: load header: %w", err)
	}
	if !ok {
		return ErrUninitialized
	}
	policy, err := PolicyFor(Variant(header.Variant))
	if err != nil {
		return fmt.Errorf("wallet: stored header: %w", err)
	}
	hasher, err := NewHasher(header.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("wallet: stored header: %w", err)
	}
	c.bind(&header, policy, hasher)
	return nil
}

func (c *Contract) bind(header *Header, policy Policy, hasher Hasher) {
	c.header = header
	c.policy = policy
	c.hasher = hasher
	c.registry = NewRegistry(c.state)
}

func (c *Contract) ready() error {
	if c == nil || c.state == nil || c.header == nil || c.policy == nil {
		return ErrUninitialized
	}
	return nil
}

// Initialized reports whether the contract is bound to a header.
func (c *Contract) Initialized() bool {
	return c.ready() == nil
}

// IsPaused implements common.PauseView.
func (c *Contract) IsPaused(module string) bool {
	if c.ready() != nil {
		return false
	}
	return module == ModuleName && c.header.Paused
}

func (c *Contract) saveHeader() error {
	if err := c.state.KVPut(headerKey, c.header); err != nil {
		return fmt.Errorf("wallet: store header: %w", err)
	}
	return nil
}

func (c *Contract) now() uint64 {
	if c.nowFn == nil {
		return uint64(time.Now().UTC().Unix())
	}
	return uint64(c.nowFn().Unix())
}

// requireAccessKey checks the caller's credential against the host's access
// keys for the caller's ledger identifier.
func (c *Contract) requireAccessKey(caller Caller) error {
	if c.keys == nil {
		return nil
	}
	ok, err := c.keys.HasKey(caller.AccountID, caller.Credential)
	if err != nil {
		return fmt.Errorf("wallet: access keys: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: credential is not an access key of %s", ErrUnauthorized, caller.AccountID)
	}
	return nil
}

func validateID(role, id string) error {
	if err := identity.ValidateAccountID(id); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, role, err)
	}
	return nil
}

// validateRole checks a role's ledger identifier and credential.
func validateRole(role, id string, cred crypto.Credential) error {
	if err := validateID(role, id); err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, role, err)
	}
	return nil
}
