package events

import (
	"peleon/core/types"
)

const (
	// TypeAccessKeyAdded is emitted when a credential becomes an access key of an account.
	TypeAccessKeyAdded = "account.key.added"
	// TypeAccessKeyRemoved is emitted when an access key is revoked.
	TypeAccessKeyRemoved = "account.key.removed"
)

// AccessKeyAdded captures a new access key. Claimed is set when the key was
// bound by the account's first signed request rather than by an operator.
type AccessKeyAdded struct {
	AccountID  string
	Credential string
	Claimed    bool
}

func (AccessKeyAdded) EventType() string { return TypeAccessKeyAdded }

func (e AccessKeyAdded) Event() *types.Event {
	attrs := map[string]string{
		"account": e.AccountID,
		"key":     e.Credential,
	}
	if e.Claimed {
		attrs["claimed"] = "true"
	}
	return &types.Event{Type: TypeAccessKeyAdded, Attributes: attrs}
}

// AccessKeyRemoved captures a revoked access key.
type AccessKeyRemoved struct {
	AccountID  string
	Credential string
}

func (AccessKeyRemoved) EventType() string { return TypeAccessKeyRemoved }

func (e AccessKeyRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeAccessKeyRemoved,
		Attributes: map[string]string{
			"account": e.AccountID,
			"key":     e.Credential,
		},
	}
}
