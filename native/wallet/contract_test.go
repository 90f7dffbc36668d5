package wallet

import (
	"context"
	stdsha256 "crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"peleon/core/events"
	"peleon/crypto"
)

func TestUninitializedContractRejectsCalls(t *testing.T) {
	caller := newCaller(t, "alice.ledger")
	contracts := map[string]*Contract{
		"nil":      nil,
		"zero":     {},
		"unloaded": New(newMemoryState()),
	}
	for name, c := range contracts {
		if _, err := c.CreateAccount(caller, "alice"); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: create: expected ErrUninitialized, got %v", name, err)
		}
		if _, err := c.Transfer(caller, "bob", uint256.NewInt(1)); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: transfer: expected ErrUninitialized, got %v", name, err)
		}
		if _, err := c.GetTotalSupply(caller); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: supply: expected ErrUninitialized, got %v", name, err)
		}
		if _, err := c.GetBalance(caller, "bob.ledger"); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: balance: expected ErrUninitialized, got %v", name, err)
		}
		if err := c.TransferOwnership(caller, "o2.ledger", caller.Credential); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: ownership: expected ErrUninitialized, got %v", name, err)
		}
		if err := c.UpdateManager(caller, "m2.ledger", caller.Credential); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: manager: expected ErrUninitialized, got %v", name, err)
		}
		if err := c.Pause(caller); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: pause: expected ErrUninitialized, got %v", name, err)
		}
		if _, err := c.Header(); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("%s: header: expected ErrUninitialized, got %v", name, err)
		}
	}
	if err := New(newMemoryState()).Load(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("load on empty state: expected ErrUninitialized, got %v", err)
	}
}

func TestInitializeTwiceKeepsOriginalBinding(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	intruder := newCaller(t, "intruder.ledger")

	c := f.open()
	err := c.Initialize(intruder, InitParams{
		Variant:           VariantPeer,
		ContractID:        testContractID,
		ManagerID:         intruder.AccountID,
		ManagerCredential: intruder.Credential,
		GatewayContractID: testGatewayID,
	})
	if !errors.Is(err, ErrAlreadyInitialized) || !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	header, err := f.reload(t).Header()
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if header.OwnerID != f.owner.AccountID || !f.owner.Credential.Equal(header.OwnerCredential) {
		t.Fatalf("owner was rebound: %+v", header)
	}
	if header.Variant != string(VariantHierarchy) || header.HashAlgorithm != HashSHA256 {
		t.Fatalf("unexpected header %+v", header)
	}
}

func TestInitializeValidation(t *testing.T) {
	owner := newCaller(t, "owner.ledger")
	manager := newCaller(t, "m.ledger")
	base := InitParams{
		Variant:           VariantPeer,
		ContractID:        testContractID,
		ManagerID:         manager.AccountID,
		ManagerCredential: manager.Credential,
		GatewayContractID: testGatewayID,
	}
	cases := map[string]func(p *InitParams, c *Caller){
		"manager id":         func(p *InitParams, _ *Caller) { p.ManagerID = "M!" },
		"manager credential": func(p *InitParams, _ *Caller) { p.ManagerCredential = crypto.Credential{1, 2} },
		"gateway":            func(p *InitParams, _ *Caller) { p.GatewayContractID = "" },
		"variant":            func(p *InitParams, _ *Caller) { p.Variant = "tree" },
		"hash":               func(p *InitParams, _ *Caller) { p.HashAlgorithm = "md5" },
		"owner credential":   func(_ *InitParams, c *Caller) { c.Credential = nil },
	}
	for name, mutate := range cases {
		params := base
		caller := owner
		mutate(&params, &caller)
		state := newMemoryState()
		if err := New(state).Initialize(caller, params); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
		if len(state.kv) != 0 {
			t.Fatalf("%s: failed initialize wrote state", name)
		}
	}
}

func TestHierarchyScenarioCreateAccount(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	c := f.contract

	accountID, err := c.CreateAccount(f.manager, "alice")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if accountID != "alice."+testContractID {
		t.Fatalf("unexpected account id %s", accountID)
	}
	want := stdsha256.Sum256([]byte("alice" + "alice." + testContractID))
	acct, err := c.Account(want)
	if err != nil {
		t.Fatalf("account by digest: %v", err)
	}
	if acct.Username != "alice" || len(acct.Credential) != 0 || acct.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected account %+v", acct)
	}

	out := c.Outbound()
	if len(out) != 1 {
		t.Fatalf("expected one intent, got %d", len(out))
	}
	intent := out[0].Intent
	if intent.Kind != IntentCreateLedgerAccount || intent.SubAccount != accountID || intent.Gas != DefaultSingleCallGas {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if out[0].Promise != nil {
		t.Fatalf("mutating intent must not carry a promise")
	}
	emitted := f.events.Drain()
	if len(emitted) != 2 || emitted[0].EventType() != events.TypeAccountCreated || emitted[1].EventType() != events.TypeIntentRecorded {
		t.Fatalf("unexpected events %+v", emitted)
	}

	c = f.reload(t)
	if _, err := c.CreateAccount(f.manager, "alice"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(c.Outbound()) != 0 {
		t.Fatalf("duplicate create recorded intents")
	}
	header, _ := c.Header()
	if header.IntentSeq != 1 {
		t.Fatalf("duplicate create advanced the outbox: %d", header.IntentSeq)
	}

	if _, err := c.CreateAccount(f.owner, "bob"); err != nil {
		t.Fatalf("owner create: %v", err)
	}
}

func TestHierarchyRejectsStrangers(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	stranger := newCaller(t, "stranger.ledger")
	before := f.state.snapshot()

	if _, err := f.contract.CreateAccount(stranger, "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.contract.Transfer(stranger, "bob.ledger", uint256.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.contract.Outbound()) != 0 || len(f.state.snapshot()) != len(before) {
		t.Fatalf("unauthorized calls changed state")
	}

	intent, err := f.contract.Transfer(f.manager, "bob.ledger", uint256.NewInt(5))
	if err != nil {
		t.Fatalf("manager transfer: %v", err)
	}
	if intent.Origin != testContractID || intent.Amount.Int64() != 5 {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestHierarchyRejectsInvalidUsernames(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	for _, username := range []string{"", "Alice", "a.b", "bad name"} {
		if _, err := f.contract.CreateAccount(f.manager, username); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected ErrValidation, got %v", username, err)
		}
	}
}

func TestPeerCreateAccountAndTransfer(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	alice := newCaller(t, "alice.ledger")

	accountID, err := f.contract.CreateAccount(alice, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if accountID != alice.AccountID {
		t.Fatalf("unexpected account id %s", accountID)
	}
	want := stdsha256.Sum256(append([]byte(alice.AccountID), alice.Credential...))
	if _, err := f.contract.Account(want); err != nil {
		t.Fatalf("account by digest: %v", err)
	}
	out := f.contract.Outbound()
	if len(out) != 1 || out[0].Intent.Kind != IntentCreateRemoteAccount || out[0].Intent.Target != testGatewayID {
		t.Fatalf("unexpected provisioning intents %+v", out)
	}

	intent, err := f.contract.Transfer(alice, "bob", uint256.NewInt(100))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if intent.Kind != IntentTransfer || intent.Origin != alice.AccountID || intent.Recipient != "bob" {
		t.Fatalf("unexpected transfer intent %+v", intent)
	}
	if intent.Seq != 2 || intent.Status != IntentPending {
		t.Fatalf("unexpected outbox position %+v", intent)
	}

	stored, err := f.contract.Intent(intent.Seq)
	if err != nil {
		t.Fatalf("stored intent: %v", err)
	}
	if stored.Amount.Cmp(intent.Amount) != 0 || stored.Gas != DefaultSingleCallGas {
		t.Fatalf("stored intent mismatch %+v", stored)
	}
}

func TestPeerTransferWithForeignCredential(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	owner := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(owner, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.contract.Outbound()
	before := f.state.snapshot()

	impostor := newCaller(t, "alice.ledger")
	if _, err := f.contract.Transfer(impostor, "bob", uint256.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.contract.Outbound()) != 0 {
		t.Fatalf("rejected transfer recorded an intent")
	}
	after := f.state.snapshot()
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("rejected transfer changed state")
		}
	}

	stranger := newCaller(t, "carol.ledger")
	if _, err := f.contract.Transfer(stranger, "bob", uint256.NewInt(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPeerDuplicateRegistration(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	alice := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(alice, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.contract.CreateAccount(alice, "alice-again"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same key, got %v", err)
	}
	rekeyed := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(rekeyed, "alice"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for rebinding, got %v", err)
	}
	if _, err := f.contract.CreateAccount(Caller{AccountID: "dave.ledger"}, "dave"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without credential, got %v", err)
	}
}

func TestTransferValidation(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	alice := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(alice, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.contract.Transfer(alice, "Bob!", uint256.NewInt(1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for recipient, got %v", err)
	}
	if _, err := f.contract.Transfer(alice, "bob", new(uint256.Int)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}
	if _, err := f.contract.Transfer(alice, "bob", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil amount, got %v", err)
	}
}

func TestOwnershipTransferScenario(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	next := newCaller(t, "o2")

	if err := f.contract.TransferOwnership(f.owner, next.AccountID, next.Credential); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	c := f.reload(t)
	third := newCaller(t, "o3.ledger")
	if err := c.TransferOwnership(f.owner, third.AccountID, third.Credential); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for former owner, got %v", err)
	}
	if err := c.UpdateManager(f.owner, third.AccountID, third.Credential); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for former owner, got %v", err)
	}
	if err := c.UpdateManager(next, third.AccountID, third.Credential); err != nil {
		t.Fatalf("new owner update manager: %v", err)
	}
	header, _ := c.Header()
	if header.OwnerID != "o2" || header.ManagerID != third.AccountID {
		t.Fatalf("unexpected header %+v", header)
	}

	emitted := f.events.Drain()
	if len(emitted) != 2 || emitted[0].EventType() != events.TypeOwnershipTransferred || emitted[1].EventType() != events.TypeManagerUpdated {
		t.Fatalf("unexpected events %+v", emitted)
	}
}

func TestRoleUpdatesRequireOwnerAndValidInput(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	next := newCaller(t, "m2.ledger")
	if err := f.contract.UpdateManager(f.manager, next.AccountID, next.Credential); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for manager, got %v", err)
	}
	if err := f.contract.UpdateManager(f.owner, "", next.Credential); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
	if err := f.contract.TransferOwnership(f.owner, next.AccountID, crypto.Credential{0x02}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad credential, got %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := deploy(t, VariantHierarchy, "")
	if err := f.contract.Pause(f.manager); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.contract.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	c := f.reload(t)
	if _, err := c.CreateAccount(f.manager, "alice"); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, err := c.Transfer(f.manager, "bob.ledger", uint256.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, err := c.GetTotalSupply(f.manager); err != nil {
		t.Fatalf("queries must stay available while paused: %v", err)
	}
	if err := c.Unpause(f.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := c.CreateAccount(f.manager, "alice"); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestQueriesReturnPromises(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	anyone := Caller{AccountID: "viewer.ledger"}

	supply, err := f.contract.GetTotalSupply(anyone)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	balance, err := f.contract.GetBalance(anyone, "alice.ledger")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if _, err := f.contract.GetBalance(anyone, "?"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	out := f.contract.Outbound()
	if len(out) != 2 || out[0].Promise != supply || out[1].Promise != balance {
		t.Fatalf("promises not paired with intents")
	}
	if out[1].Intent.Owner != "alice.ledger" || out[1].Intent.Kind != IntentBalance {
		t.Fatalf("unexpected balance intent %+v", out[1].Intent)
	}

	balance.Resolve(uint256.NewInt(42))
	balance.Resolve(uint256.NewInt(7))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := balance.Await(ctx)
	if err != nil || got.Uint64() != 42 {
		t.Fatalf("unexpected balance %v err=%v", got, err)
	}

	supply.Reject(nil)
	if _, err := supply.Await(ctx); !errors.Is(err, ErrPromiseDropped) {
		t.Fatalf("expected ErrPromiseDropped, got %v", err)
	}
}

func TestMarkIntentIsFinal(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	alice := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(alice, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	c := f.reload(t)
	if _, err := c.MarkIntent(1, IntentPending, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	marked, err := c.MarkIntent(1, IntentDispatched, "")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if marked.Status != IntentDispatched {
		t.Fatalf("unexpected status %s", marked.Status)
	}
	if _, err := c.MarkIntent(1, IntentDispatched, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for re-dispatch, got %v", err)
	}
	failed, err := c.MarkIntent(1, IntentFailed, " remote said no ")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Reason != "remote said no" {
		t.Fatalf("unexpected reason %q", failed.Reason)
	}
	if _, err := c.MarkIntent(1, IntentFailed, "late"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for final intent, got %v", err)
	}
	if _, err := c.MarkIntent(9, IntentDispatched, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := c.Intents(0, 0)
	if err != nil || len(list) != 1 || list[0].Status != IntentFailed {
		t.Fatalf("unexpected intents %+v err=%v", list, err)
	}
}

func TestLoadUsesRecordedHashAlgorithm(t *testing.T) {
	f := deploy(t, VariantPeer, HashKeccak256)
	alice := newCaller(t, "alice.ledger")
	if _, err := f.contract.CreateAccount(alice, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	c := f.reload(t)
	acct, digest, err := c.AccountByID(alice.AccountID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	recomputed, err := c.Digest(acct)
	if err != nil || recomputed != digest {
		t.Fatalf("digest mismatch after reload")
	}
	h, _ := NewHasher(HashKeccak256)
	if digest != h.Digest([]byte(alice.AccountID), alice.Credential) {
		t.Fatalf("digest not computed with recorded algorithm")
	}
}

func TestKindOf(t *testing.T) {
	cases := map[error]string{
		nil:                        KindNone,
		ErrValidation:              KindValidation,
		ErrUnauthorized:            KindUnauthorized,
		ErrDuplicate:               KindDuplicate,
		ErrAlreadyInitialized:      KindAlreadyInitialized,
		ErrNotFound:                KindNotFound,
		ErrUninitialized:           KindUninitialized,
		ErrPaused:                  KindPaused,
		errors.New("disk on fire"): KindInternal,
		errors.Join(errors.New("x"), ErrNotFound): KindNotFound,
	}
	for err, want := range cases {
		if got := KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestQueriesLeaveOutboxUntouched(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	before := f.state.snapshot()
	anyone := Caller{AccountID: "viewer.ledger"}

	for i := 0; i < 3; i++ {
		_, err := f.contract.GetTotalSupply(anyone)
		require.NoError(t, err)
	}
	_, err := f.contract.GetBalance(anyone, "alice.ledger")
	require.NoError(t, err)

	require.Equal(t, before, f.state.snapshot())
	out := f.contract.Outbound()
	require.Len(t, out, 4)
	for i, o := range out {
		require.Equal(t, uint64(i+1), o.Intent.Seq)
		require.NotNil(t, o.Promise)
	}
	require.Empty(t, f.events.Drain())

	c := f.reload(t)
	header, err := c.Header()
	require.NoError(t, err)
	require.Zero(t, header.IntentSeq)
	list, err := c.Intents(0, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestQuerySequenceComesFromHost(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	next := uint64(40)
	f.contract.SetQuerySequence(func() uint64 { next++; return next })
	promise, err := f.contract.GetTotalSupply(Caller{AccountID: "viewer.ledger"})
	require.NoError(t, err)
	require.Equal(t, uint64(41), promise.Seq())
}

type keyTable map[string]crypto.Credential

func (k keyTable) HasKey(accountID string, cred crypto.Credential) (bool, error) {
	bound, ok := k[accountID]
	return ok && bound.Equal(cred), nil
}

func TestAccessKeysStopLedgerIdentitySquatting(t *testing.T) {
	f := deploy(t, VariantPeer, "")
	treasurer := newCaller(t, "treasury.ledger")
	f.contract.SetAccessKeys(keyTable{treasurer.AccountID: treasurer.Credential})
	attacker := newCaller(t, treasurer.AccountID)
	before := f.state.snapshot()

	_, err := f.contract.CreateAccount(attacker, "treasury")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.contract.Transfer(attacker, "mallory.ledger", uint256.NewInt(900))
	require.Error(t, err)
	require.Empty(t, f.contract.Outbound())
	require.Equal(t, before, f.state.snapshot())

	accountID, err := f.contract.CreateAccount(treasurer, "treasury")
	require.NoError(t, err)
	require.Equal(t, treasurer.AccountID, accountID)
	f.contract.Outbound()

	// Registered, but the credential still has to be a live access key.
	f.contract.SetAccessKeys(keyTable{})
	_, err = f.contract.Transfer(treasurer, "bob.ledger", uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, f.contract.Outbound())
}
