// Package runtime hosts the wallet contract. It serializes calls, runs each
// one inside a state transaction and hands the remote intents recorded by a
// committed call to the dispatcher.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"peleon/core/events"
	"peleon/core/state"
	"peleon/core/types"
	"peleon/native/wallet"
	"peleon/observability"
	"peleon/storage"
)

// DefaultNamespace isolates wallet contract state in the shared database.
const DefaultNamespace = "wallet"

// ErrQueueFull is returned by an IntentSink that cannot accept more work.
var ErrQueueFull = errors.New("runtime: dispatch queue full")

// IntentSink receives intents once the call that recorded them has committed.
// Enqueue must not block.
type IntentSink interface {
	Enqueue(wallet.Outbound) error
}

// Receipt summarises a committed call. Intents holds the outbox entries the
// call stored; queries only contribute promises.
type Receipt struct {
	Method   string
	Intents  []*wallet.Intent
	Promises []*wallet.Promise
	Events   []*types.Event
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithNamespace overrides the state namespace.
func WithNamespace(ns string) Option {
	return func(r *Runtime) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// WithSingleCallGas overrides the gas attached to remote calls.
func WithSingleCallGas(gas uint64) Option {
	return func(r *Runtime) { r.gas = gas }
}

// WithEmitter sets the emitter receiving events of committed calls.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAccessKeys makes the contract check callers' credentials against the
// host's access keys.
func WithAccessKeys(keys wallet.AccessKeys) Option {
	return func(r *Runtime) { r.keys = keys }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.nowFn = clock
		}
	}
}

// Runtime is the host for one wallet contract instance.
type Runtime struct {
	mu        sync.Mutex
	db        storage.Database
	namespace string
	gas       uint64
	sink      IntentSink
	emitter   events.Emitter
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.ContractMetrics
	nowFn     func() time.Time
	keys      wallet.AccessKeys
	queries   atomic.Uint64
}

// New constructs a runtime persisting contract state into db.
func New(db storage.Database, opts ...Option) *Runtime {
	r := &Runtime{
		db:        db,
		namespace: DefaultNamespace,
		gas:       wallet.DefaultSingleCallGas,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("peleon/core/runtime"),
		metrics:   observability.Contract(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// SetSink attaches the intent sink. Intents of calls committed while no sink
// is attached stay pending in the outbox until Replay.
func (r *Runtime) SetSink(sink IntentSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Initialize runs the one-time contract constructor as caller.
func (r *Runtime) Initialize(ctx context.Context, caller wallet.Caller, params wallet.InitParams) (*Receipt, error) {
	return r.run(ctx, "initialize", func(c *wallet.Contract) error {
		return c.Initialize(caller, params)
	})
}

// Execute loads the contract and runs fn as one all-or-nothing call. When fn
// fails every staged write is discarded, buffered events are dropped and
// recorded intents are never dispatched.
func (r *Runtime) Execute(ctx context.Context, method string, fn func(*wallet.Contract) error) (*Receipt, error) {
	return r.run(ctx, method, func(c *wallet.Contract) error {
		if err := c.Load(); err != nil {
			return err
		}
		return fn(c)
	})
}

// View runs fn against committed state and discards anything it writes.
func (r *Runtime) View(ctx context.Context, fn func(*wallet.Contract) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := state.NewManager(r.db, r.namespace)
	defer st.Revert()
	c := r.contract(st, events.NoopEmitter{})
	if err := c.Load(); err != nil {
		return err
	}
	return fn(c)
}

// MarkIntent records the dispatcher's hand-over outcome in the outbox.
func (r *Runtime) MarkIntent(ctx context.Context, seq uint64, status wallet.IntentStatus, reason string) (*wallet.Intent, error) {
	var updated *wallet.Intent
	_, err := r.Execute(ctx, "mark_intent", func(c *wallet.Contract) error {
		var err error
		updated, err = c.MarkIntent(seq, status, reason)
		return err
	})
	return updated, err
}

// Replay re-enqueues outbox intents still pending, e.g. after a restart. An
// intent marked dispatched is never replayed, even if its remote call did
// not finish.
func (r *Runtime) Replay(ctx context.Context) (int, error) {
	var pending []*wallet.Intent
	err := r.View(ctx, func(c *wallet.Contract) error {
		all, err := c.Intents(0, 0)
		if err != nil {
			return err
		}
		for _, intent := range all {
			if intent.Status == wallet.IntentPending {
				pending = append(pending, intent)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return 0, nil
	}
	replayed := 0
	for _, intent := range pending {
		if err := sink.Enqueue(wallet.Outbound{Intent: intent}); err != nil {
			return replayed, fmt.Errorf("runtime: replay intent %d: %w", intent.Seq, err)
		}
		replayed++
	}
	return replayed, nil
}

func (r *Runtime) contract(st *state.Manager, emitter events.Emitter) *wallet.Contract {
	c := wallet.New(st)
	c.SetEmitter(emitter)
	c.SetSingleCallGas(r.gas)
	c.SetNowFunc(r.nowFn)
	c.SetQuerySequence(func() uint64 { return r.queries.Add(1) })
	if r.keys != nil {
		c.SetAccessKeys(r.keys)
	}
	return c
}

func (r *Runtime) run(ctx context.Context, method string, fn func(*wallet.Contract) error) (*Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "contract."+method)
	defer span.End()
	span.SetAttributes(attribute.String("contract.method", method))
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := state.NewManager(r.db, r.namespace)
	var buf events.Buffer
	c := r.contract(st, &buf)

	err := fn(c)
	outbound := c.Outbound()
	writes := st.Pending()
	if err == nil {
		err = st.Commit()
	}
	if err != nil {
		st.Revert()
		buf.Drain()
		for _, out := range outbound {
			if out.Promise != nil {
				out.Promise.Reject(err)
			}
		}
		kind := wallet.KindOf(err)
		r.metrics.ObserveCall(method, kind, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		r.logger.Warn("contract call reverted",
			slog.String("method", method),
			slog.String("kind", kind),
			slog.Any("error", err))
		return nil, err
	}

	receipt := &Receipt{Method: method}
	for _, evt := range buf.Drain() {
		receipt.Events = append(receipt.Events, evt.Event())
		observability.Events().RecordEvent(evt.EventType())
		r.emitter.Emit(evt)
	}
	if header, herr := c.Header(); herr == nil {
		r.metrics.SetPaused(header.Paused)
	}
	for _, out := range outbound {
		if out.Intent.Kind.Mutating() {
			receipt.Intents = append(receipt.Intents, out.Intent)
			r.metrics.RecordIntent(string(out.Intent.Kind), wallet.IntentPending.String())
		}
		if out.Promise != nil {
			receipt.Promises = append(receipt.Promises, out.Promise)
		}
		r.enqueue(out)
	}
	r.metrics.ObserveCall(method, wallet.KindNone, time.Since(start))
	span.SetAttributes(attribute.Int("contract.intents", len(outbound)))
	r.logger.Debug("contract call committed",
		slog.String("method", method),
		slog.Int("intents", len(outbound)),
		slog.Int("events", len(receipt.Events)),
		slog.Int("writes", writes))
	return receipt, nil
}

// enqueue hands a committed intent to the sink. A refused intent stays
// pending in the outbox for Replay; its promise is rejected.
func (r *Runtime) enqueue(out wallet.Outbound) {
	if r.sink == nil {
		if out.Promise != nil {
			out.Promise.Reject(fmt.Errorf("%w: no dispatcher attached", wallet.ErrPromiseDropped))
		}
		return
	}
	if err := r.sink.Enqueue(out); err != nil {
		r.logger.Warn("intent left pending",
			slog.Uint64("seq", out.Intent.Seq),
			slog.String("kind", string(out.Intent.Kind)),
			slog.Any("error", err))
		if out.Promise != nil {
			out.Promise.Reject(fmt.Errorf("%w: %v", wallet.ErrPromiseDropped, err))
		}
	}
}
