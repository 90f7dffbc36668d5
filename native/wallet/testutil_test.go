package wallet

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"peleon/core/events"
	"peleon/crypto"
)

const (
	testContractID = "wallet.ledger"
	testGatewayID  = "chiron.ledger"
)

type memoryState struct {
	kv map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{kv: make(map[string][]byte)}
}

func (m *memoryState) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryState) KVHas(key []byte) (bool, error) {
	_, ok := m.kv[string(key)]
	return ok, nil
}

func (m *memoryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *memoryState) snapshot() map[string]string {
	out := make(map[string]string, len(m.kv))
	for k, v := range m.kv {
		out[k] = string(v)
	}
	return out
}

func newCaller(t *testing.T, accountID string) Caller {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Caller{AccountID: accountID, Credential: key.PubKey().Credential()}
}

type fixture struct {
	state    *memoryState
	contract *Contract
	owner    Caller
	manager  Caller
	events   *events.Buffer
}

func deploy(t *testing.T, variant Variant, hashAlg string) *fixture {
	t.Helper()
	f := &fixture{
		state:   newMemoryState(),
		owner:   newCaller(t, "owner.ledger"),
		manager: newCaller(t, "m.ledger"),
		events:  &events.Buffer{},
	}
	f.contract = f.open()
	err := f.contract.Initialize(f.owner, InitParams{
		Variant:           variant,
		ContractID:        testContractID,
		HashAlgorithm:     hashAlg,
		ManagerID:         f.manager.AccountID,
		ManagerCredential: f.manager.Credential,
		GatewayContractID: testGatewayID,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	f.contract.Outbound()
	f.events.Drain()
	return f
}

// open returns a fresh, unbound contract over the fixture state.
func (f *fixture) open() *Contract {
	c := New(f.state)
	c.SetEmitter(f.events)
	base := time.Unix(1_700_000_000, 0)
	c.SetNowFunc(func() time.Time { return base })
	return c
}

// reload simulates the next host call.
func (f *fixture) reload(t *testing.T) *Contract {
	t.Helper()
	c := f.open()
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.contract = c
	return c
}
