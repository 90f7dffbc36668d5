// Package token implements the reference token ledger the wallet contract
// talks to through remote calls. It keeps balances and total supply in its own
// state namespace and charges a fixed gas cost per operation against the
// budget attached to each call.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"peleon/core/events"
	"peleon/core/identity"
	"peleon/core/state"
	"peleon/storage"
)

// Namespace isolates token ledger state from the wallet contract.
const Namespace = "token"

// Gas charged per operation.
const (
	CreateAccountGas uint64 = 2_500_000_000_000
	TransferGas      uint64 = 5_000_000_000_000
	QueryGas         uint64 = 1_000_000_000_000
)

var (
	ErrAccountExists       = errors.New("token: account already exists")
	ErrUnknownAccount      = errors.New("token: unknown account")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInsufficientGas     = errors.New("token: insufficient gas")
	ErrInvalidAmount       = errors.New("token: invalid amount")
	ErrInvalidAccount      = errors.New("token: invalid account")
)

var (
	supplyKey     = []byte("token/supply")
	balancePrefix = []byte("token/balance/")
)

func balanceKey(accountID string) []byte {
	return append(append([]byte(nil), balancePrefix...), accountID...)
}

type balanceRecord struct {
	Balance *big.Int
	Ledger  bool
}

// Ledger is the reference token ledger.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	symbol  string
	emitter events.Emitter
}

// NewLedger constructs a token ledger persisting into db.
func NewLedger(db storage.Database, symbol string) *Ledger {
	return &Ledger{
		db:      db,
		symbol:  strings.TrimSpace(symbol),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter overrides the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// update runs fn inside a state transaction and publishes its events only
// when the transaction commits.
func (l *Ledger) update(ctx context.Context, fn func(*state.Manager, events.Emitter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := state.NewManager(l.db, Namespace)
	var buf events.Buffer
	if err := fn(st, &buf); err != nil {
		st.Revert()
		return err
	}
	if err := st.Commit(); err != nil {
		return err
	}
	for _, evt := range buf.Drain() {
		l.emitter.Emit(evt)
	}
	return nil
}

func chargeGas(budget, cost uint64) error {
	if budget < cost {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientGas, cost, budget)
	}
	return nil
}

func loadBalance(st *state.Manager, accountID string) (*balanceRecord, bool, error) {
	var rec balanceRecord
	ok, err := st.KVGet(balanceKey(accountID), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	if rec.Balance == nil {
		rec.Balance = new(big.Int)
	}
	return &rec, true, nil
}

func (l *Ledger) open(ctx context.Context, accountID string, ledger bool, gas uint64) error {
	if err := chargeGas(gas, CreateAccountGas); err != nil {
		return err
	}
	if err := identity.ValidateAccountID(accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return l.update(ctx, func(st *state.Manager, emit events.Emitter) error {
		if _, exists, err := loadBalance(st, accountID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ErrAccountExists, accountID)
		}
		if err := st.KVPut(balanceKey(accountID), &balanceRecord{Balance: new(big.Int), Ledger: ledger}); err != nil {
			return err
		}
		emit.Emit(events.TokenAccountCreated{AccountID: accountID, Ledger: ledger})
		return nil
	})
}

// CreateAccount opens a zero balance record for caller.
func (l *Ledger) CreateAccount(ctx context.Context, caller string, gas uint64) error {
	return l.open(ctx, caller, false, gas)
}

// CreateLedgerAccount opens a zero balance record for a sub-identity created
// by a provisioning contract.
func (l *Ledger) CreateLedgerAccount(ctx context.Context, accountID string, gas uint64) error {
	return l.open(ctx, accountID, true, gas)
}

// Transfer moves amount from caller to recipient. Both records must exist.
func (l *Ledger) Transfer(ctx context.Context, caller, recipient string, amount *uint256.Int, gas uint64) error {
	if err := chargeGas(gas, TransferGas); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return l.update(ctx, func(st *state.Manager, emit events.Emitter) error {
		from, ok, err := loadBalance(st, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, caller)
		}
		to, ok, err := loadBalance(st, recipient)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, recipient)
		}
		value := amount.ToBig()
		if from.Balance.Cmp(value) < 0 {
			return fmt.Errorf("%w: %s has %s", ErrInsufficientBalance, caller, from.Balance)
		}
		if caller == recipient {
			return nil
		}
		from.Balance = new(big.Int).Sub(from.Balance, value)
		to.Balance = new(big.Int).Add(to.Balance, value)
		if err := st.KVPut(balanceKey(caller), from); err != nil {
			return err
		}
		if err := st.KVPut(balanceKey(recipient), to); err != nil {
			return err
		}
		emit.Emit(events.TokenTransfer{Token: l.symbol, From: caller, To: recipient, Amount: amount.Clone(), Gas: gas})
		return nil
	})
}

// Mint credits amount to accountID and grows the supply. It is a genesis
// operation and is not reachable through remote calls.
func (l *Ledger) Mint(ctx context.Context, accountID string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return l.update(ctx, func(st *state.Manager, emit events.Emitter) error {
		rec, ok, err := loadBalance(st, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		supply, err := loadSupply(st)
		if err != nil {
			return err
		}
		delta := amount.ToBig()
		rec.Balance = new(big.Int).Add(rec.Balance, delta)
		supply = new(big.Int).Add(supply, delta)
		total, overflow := uint256.FromBig(supply)
		if overflow {
			return fmt.Errorf("%w: supply overflow", ErrInvalidAmount)
		}
		if err := st.KVPut(balanceKey(accountID), rec); err != nil {
			return err
		}
		if err := st.KVPut(supplyKey, supply); err != nil {
			return err
		}
		emit.Emit(events.TokenSupply{Token: l.symbol, Total: total, Delta: amount.Clone(), Reason: events.SupplyReasonMint})
		return nil
	})
}

func loadSupply(st *state.Manager) (*big.Int, error) {
	supply := new(big.Int)
	if _, err := st.KVGet(supplyKey, supply); err != nil {
		return nil, err
	}
	return supply, nil
}

// TotalSupply returns the total minted supply.
func (l *Ledger) TotalSupply(ctx context.Context, gas uint64) (*uint256.Int, error) {
	if err := chargeGas(gas, QueryGas); err != nil {
		return nil, err
	}
	var out *uint256.Int
	err := l.view(ctx, func(st *state.Manager) error {
		supply, err := loadSupply(st)
		if err != nil {
			return err
		}
		out, _ = uint256.FromBig(supply)
		return nil
	})
	return out, err
}

// BalanceOf returns the balance of owner. Unknown owners hold zero.
func (l *Ledger) BalanceOf(ctx context.Context, owner string, gas uint64) (*uint256.Int, error) {
	if err := chargeGas(gas, QueryGas); err != nil {
		return nil, err
	}
	out := new(uint256.Int)
	err := l.view(ctx, func(st *state.Manager) error {
		rec, ok, err := loadBalance(st, owner)
		if err != nil || !ok {
			return err
		}
		out, _ = uint256.FromBig(rec.Balance)
		return nil
	})
	return out, err
}

// HasAccount reports whether accountID holds a balance record.
func (l *Ledger) HasAccount(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := l.view(ctx, func(st *state.Manager) error {
		var err error
		_, exists, err = loadBalance(st, accountID)
		return err
	})
	return exists, err
}

func (l *Ledger) view(ctx context.Context, fn func(*state.Manager) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(state.NewManager(l.db, Namespace))
}
