package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

// ErrPromiseDropped is delivered to a promise whose call was reverted before
// the query could be dispatched.
var ErrPromiseDropped = errors.New("wallet: query dropped")

// Promise delivers the result of a read-style remote call after the call that
// requested it has completed.
type Promise struct {
	seq  uint64
	kind IntentKind

	once  sync.Once
	done  chan struct{}
	value *uint256.Int
	err   error
}

func newPromise(seq uint64, kind IntentKind) *Promise {
	return &Promise{seq: seq, kind: kind, done: make(chan struct{})}
}

// Seq returns the outbox sequence of the query intent.
func (p *Promise) Seq() uint64 { return p.seq }

// Kind returns the query kind.
func (p *Promise) Kind() IntentKind { return p.kind }

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Resolve settles the promise with value. Only the first settlement counts.
func (p *Promise) Resolve(value *uint256.Int) {
	p.once.Do(func() {
		if value != nil {
			p.value = value.Clone()
		} else {
			p.value = new(uint256.Int)
		}
		close(p.done)
	})
}

// Reject settles the promise with err. Only the first settlement counts.
func (p *Promise) Reject(err error) {
	if err == nil {
		err = ErrPromiseDropped
	}
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (*uint256.Int, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return p.value.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
