package wallet

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"peleon/core/events"
	"peleon/core/identity"
	"peleon/native/common"
)

// Outbound pairs an intent recorded during the current call with the promise
// awaiting its result. Promise is nil for mutating intents, which are the only
// ones stored in the outbox.
type Outbound struct {
	Intent  *Intent
	Promise *Promise
}

func intentKey(seq uint64) []byte {
	key := make([]byte, len(intentPrefix)+8)
	copy(key, intentPrefix)
	binary.BigEndian.PutUint64(key[len(intentPrefix):], seq)
	return key
}

// record appends intent to the outbox. The host dispatches it only after the
// call commits; the contract never learns the remote outcome.
func (c *Contract) record(intent Intent) (*Intent, error) {
	c.header.IntentSeq++
	intent.Seq = c.header.IntentSeq
	c.stamp(&intent)
	if err := c.state.KVPut(intentKey(intent.Seq), &intent); err != nil {
		return nil, fmt.Errorf("wallet: store intent: %w", err)
	}
	if err := c.saveHeader(); err != nil {
		return nil, err
	}
	stored := intent.Clone()
	c.outbound = append(c.outbound, Outbound{Intent: stored})
	c.emitter.Emit(events.IntentRecorded{
		Seq:    intent.Seq,
		Kind:   string(intent.Kind),
		Target: intent.Target,
		Gas:    intent.Gas,
	})
	return stored.Clone(), nil
}

// query hands a read-only request to the host together with the promise for
// its answer. Nothing is written: the outbox and the header are untouched,
// and the sequence number comes from a counter of its own.
func (c *Contract) query(intent Intent) *Promise {
	intent.Seq = c.nextQuerySeq()
	c.stamp(&intent)
	promise := newPromise(intent.Seq, intent.Kind)
	c.outbound = append(c.outbound, Outbound{Intent: intent.Clone(), Promise: promise})
	return promise
}

func (c *Contract) nextQuerySeq() uint64 {
	if c.querySeq != nil {
		return c.querySeq()
	}
	c.queries++
	return c.queries
}

func (c *Contract) stamp(intent *Intent) {
	intent.Gas = c.SingleCallGas()
	intent.Status = IntentPending
	intent.CreatedAt = c.now()
	intent.UpdatedAt = intent.CreatedAt
	if intent.Target == "" {
		intent.Target = c.header.GatewayContractID
	}
}

// Outbound returns and clears the intents recorded by this contract instance.
func (c *Contract) Outbound() []Outbound {
	if c == nil {
		return nil
	}
	out := c.outbound
	c.outbound = nil
	return out
}

// Transfer records a transfer of amount to recipient on the token ledger. The
// policy's transfer check runs before anything is recorded.
func (c *Contract) Transfer(caller Caller, recipient string, amount *uint256.Int) (*Intent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := c.guardPaused(); err != nil {
		return nil, err
	}
	if err := identity.ValidateAccountID(recipient); err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrValidation, err)
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	origin, err := c.policy.AuthorizeTransfer(caller, c.header, c.registry)
	if err != nil {
		return nil, err
	}
	if err := c.requireAccessKey(caller); err != nil {
		return nil, err
	}
	return c.record(Intent{
		Kind:      IntentTransfer,
		Origin:    origin,
		Recipient: recipient,
		Amount:    amount.ToBig(),
	})
}

// GetTotalSupply queries the token ledger's total supply.
func (c *Contract) GetTotalSupply(caller Caller) (*Promise, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.query(Intent{
		Kind:   IntentTotalSupply,
		Origin: caller.AccountID,
	}), nil
}

// GetBalance queries the token ledger balance of owner.
func (c *Contract) GetBalance(caller Caller, owner string) (*Promise, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := identity.ValidateAccountID(owner); err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrValidation, err)
	}
	return c.query(Intent{
		Kind:   IntentBalance,
		Origin: caller.AccountID,
		Owner:  owner,
	}), nil
}

// Intent returns the outbox entry with sequence seq.
func (c *Contract) Intent(seq uint64) (*Intent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var intent Intent
	ok, err := c.state.KVGet(intentKey(seq), &intent)
	if err != nil {
		return nil, fmt.Errorf("wallet: load intent: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: intent %d", ErrNotFound, seq)
	}
	return &intent, nil
}

// Intents lists up to limit outbox entries starting at sequence from. A zero
// limit returns every remaining entry.
func (c *Contract) Intents(from uint64, limit int) ([]*Intent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}
	var out []*Intent
	for seq := from; seq <= c.header.IntentSeq; seq++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		intent, err := c.Intent(seq)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

// MarkIntent records the host's hand-over outcome for intent seq. A pending
// intent moves to dispatched or failed. A dispatched intent may still move to
// failed once, when the remote call it was handed to returns an error. Failed
// is final.
func (c *Contract) MarkIntent(seq uint64, status IntentStatus, reason string) (*Intent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if status != IntentDispatched && status != IntentFailed {
		return nil, fmt.Errorf("%w: invalid intent status %s", ErrValidation, status)
	}
	intent, err := c.Intent(seq)
	if err != nil {
		return nil, err
	}
	switch {
	case intent.Status == IntentPending:
	case intent.Status == IntentDispatched && status == IntentFailed:
	default:
		return nil, fmt.Errorf("%w: intent %d already %s", ErrValidation, seq, intent.Status)
	}
	intent.Status = status
	intent.Reason = strings.TrimSpace(reason)
	intent.UpdatedAt = c.now()
	if err := c.state.KVPut(intentKey(seq), intent); err != nil {
		return nil, fmt.Errorf("wallet: store intent: %w", err)
	}
	return intent, nil
}

func (c *Contract) guardPaused() error {
	if err := common.Guard(c, ModuleName); err != nil {
		return fmt.Errorf("%w: %v", ErrPaused, err)
	}
	return nil
}
