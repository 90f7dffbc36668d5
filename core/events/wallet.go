package events

import (
	"encoding/hex"
	"strconv"

	"peleon/core/types"
)

const (
	TypeWalletInitialized     = "wallet.initialized"
	TypeAccountCreated        = "wallet.account.created"
	TypeOwnershipTransferred  = "wallet.ownership.transferred"
	TypeManagerUpdated        = "wallet.manager.updated"
	TypeIntentRecorded        = "wallet.intent.recorded"
	TypeWalletPauseToggled    = "wallet.paused"
	TypeIntentDispatched      = "wallet.intent.dispatched"
	TypeIntentDispatchFailure = "wallet.intent.dispatch_failed"
)

// WalletInitialized is emitted once, when the contract header is bound.
type WalletInitialized struct {
	ContractID        string
	Variant           string
	OwnerID           string
	ManagerID         string
	GatewayContractID string
}

// EventType implements the Event interface.
func (WalletInitialized) EventType() string { return TypeWalletInitialized }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e WalletInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeWalletInitialized,
		Attributes: map[string]string{
			"contract": e.ContractID,
			"variant":  e.Variant,
			"owner":    e.OwnerID,
			"manager":  e.ManagerID,
			"gateway":  e.GatewayContractID,
		},
	}
}

// AccountCreated is emitted when a new record lands in the registry.
type AccountCreated struct {
	Digest    [32]byte
	Username  string
	AccountID string
	Creator   string
}

// EventType implements the Event interface.
func (AccountCreated) EventType() string { return TypeAccountCreated }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e AccountCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountCreated,
		Attributes: map[string]string{
			"digest":    hex.EncodeToString(e.Digest[:]),
			"username":  e.Username,
			"accountId": e.AccountID,
			"creator":   e.Creator,
		},
	}
}

type OwnershipTransferred struct {
	PreviousOwnerID string
	NewOwnerID      string
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnershipTransferred,
		Attributes: map[string]string{
			"previous": e.PreviousOwnerID,
			"owner":    e.NewOwnerID,
		},
	}
}

type ManagerUpdated struct {
	PreviousManagerID string
	NewManagerID      string
}

func (ManagerUpdated) EventType() string { return TypeManagerUpdated }

func (e ManagerUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeManagerUpdated,
		Attributes: map[string]string{
			"previous": e.PreviousManagerID,
			"manager":  e.NewManagerID,
		},
	}
}

// IntentRecorded is emitted when a call records an outbound remote request.
// The request has not executed when this event is observed.
type IntentRecorded struct {
	Seq    uint64
	Kind   string
	Target string
	Gas    uint64
}

func (IntentRecorded) EventType() string { return TypeIntentRecorded }

func (e IntentRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentRecorded,
		Attributes: map[string]string{
			"seq":    strconv.FormatUint(e.Seq, 10),
			"kind":   e.Kind,
			"target": e.Target,
			"gas":    strconv.FormatUint(e.Gas, 10),
		},
	}
}

// IntentDispatched is emitted by the host once an intent has been handed to
// the remote contract. It says nothing about the remote outcome.
type IntentDispatched struct {
	Seq    uint64
	Kind   string
	Target string
}

func (IntentDispatched) EventType() string { return TypeIntentDispatched }

func (e IntentDispatched) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentDispatched,
		Attributes: map[string]string{
			"seq":    strconv.FormatUint(e.Seq, 10),
			"kind":   e.Kind,
			"target": e.Target,
		},
	}
}

// IntentDispatchFailed is emitted when the host could not hand an intent to
// the remote contract. No retry follows.
type IntentDispatchFailed struct {
	Seq    uint64
	Kind   string
	Target string
	Reason string
}

func (IntentDispatchFailed) EventType() string { return TypeIntentDispatchFailure }

func (e IntentDispatchFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeIntentDispatchFailure,
		Attributes: map[string]string{
			"seq":    strconv.FormatUint(e.Seq, 10),
			"kind":   e.Kind,
			"target": e.Target,
			"reason": e.Reason,
		},
	}
}

type WalletPauseToggled struct {
	Paused bool
	By     string
}

func (WalletPauseToggled) EventType() string { return TypeWalletPauseToggled }

func (e WalletPauseToggled) Event() *types.Event {
	return &types.Event{
		Type: TypeWalletPauseToggled,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(e.Paused),
			"by":     e.By,
		},
	}
}
