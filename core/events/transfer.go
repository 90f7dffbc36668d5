package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"peleon/core/types"
)

const (
	// TypeTokenTransfer is emitted when the token ledger moves a balance.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenAccountCreated is emitted when the token ledger opens a balance record.
	TypeTokenAccountCreated = "token.account.created"
)

// TokenTransfer captures a balance movement on the token ledger.
type TokenTransfer struct {
	Token  string
	From   string
	To     string
	Amount *uint256.Int
	Gas    uint64
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From,
		"to":     e.To,
		"amount": formatAmount(e.Amount),
	}
	if token := normalizeToken(e.Token); token != "" {
		attrs["token"] = token
	}
	if e.Gas > 0 {
		attrs["gas"] = strconv.FormatUint(e.Gas, 10)
	}
	return &types.Event{Type: TypeTokenTransfer, Attributes: attrs}
}

// TokenAccountCreated captures a new balance record. Ledger is set when the
// record was opened for a sub-identity rather than a caller.
type TokenAccountCreated struct {
	AccountID string
	Ledger    bool
}

func (TokenAccountCreated) EventType() string { return TypeTokenAccountCreated }

func (e TokenAccountCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenAccountCreated,
		Attributes: map[string]string{
			"account": e.AccountID,
			"ledger":  strconv.FormatBool(e.Ledger),
		},
	}
}
