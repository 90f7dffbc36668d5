package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"peleon/core/events"
	"peleon/native/common"
	"peleon/native/wallet"
	"peleon/observability"
)

// Remote is the token ledger contract as seen by the host. Every call carries
// the gas budget recorded on the intent.
type Remote interface {
	CreateAccount(ctx context.Context, caller string, gas uint64) error
	CreateLedgerAccount(ctx context.Context, accountID string, gas uint64) error
	Transfer(ctx context.Context, caller, recipient string, amount *uint256.Int, gas uint64) error
	TotalSupply(ctx context.Context, gas uint64) (*uint256.Int, error)
	BalanceOf(ctx context.Context, owner string, gas uint64) (*uint256.Int, error)
}

// Marker persists the hand-over outcome of an intent.
type Marker interface {
	MarkIntent(ctx context.Context, seq uint64, status wallet.IntentStatus, reason string) (*wallet.Intent, error)
}

// Journal mirrors settled intents into an operator-facing store.
type Journal interface {
	Record(ctx context.Context, intent *wallet.Intent) error
}

// ErrDispatcherStopped is returned by Enqueue after Run returned.
var ErrDispatcherStopped = errors.New("runtime: dispatcher stopped")

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the number of intents waiting for hand-over.
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithRateLimit throttles hand-overs to perSecond with the given burst. A
// non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithQuota caps remote calls and gas per originating account and epoch.
func WithQuota(q common.Quota) DispatcherOption {
	return func(d *Dispatcher) { d.quota = q }
}

// WithJournal mirrors settled intents into j.
func WithJournal(j Journal) DispatcherOption {
	return func(d *Dispatcher) { d.journal = j }
}

// WithDispatchEmitter publishes dispatch outcome events.
func WithDispatchEmitter(emitter events.Emitter) DispatcherOption {
	return func(d *Dispatcher) {
		if emitter != nil {
			d.emitter = emitter
		}
	}
}

// WithDispatchLogger sets the dispatcher logger.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatchClock overrides the clock used for quota epochs and lag metrics.
func WithDispatchClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.nowFn = clock
		}
	}
}

// Dispatcher hands committed intents to the remote contract from a single
// worker goroutine. It never retries and never reports back into the contract
// beyond marking the outbox entry. An intent is marked dispatched before its
// remote call, so delivery is at most once.
type Dispatcher struct {
	remote    Remote
	marker    Marker
	journal   Journal
	emitter   events.Emitter
	limiter   *rate.Limiter
	quota     common.Quota
	queueSize int
	logger    *slog.Logger
	metrics   *observability.ContractMetrics
	nowFn     func() time.Time

	queue chan wallet.Outbound

	mu      sync.Mutex
	usage   map[string]common.QuotaNow
	stopped bool
}

// NewDispatcher constructs a dispatcher delivering to remote and recording
// outcomes through marker.
func NewDispatcher(remote Remote, marker Marker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		remote:    remote,
		marker:    marker,
		emitter:   events.NoopEmitter{},
		queueSize: 256,
		logger:    slog.Default(),
		metrics:   observability.Contract(),
		nowFn:     func() time.Time { return time.Now().UTC() },
		usage:     make(map[string]common.QuotaNow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.queue = make(chan wallet.Outbound, d.queueSize)
	return d
}

// Enqueue implements IntentSink. It never blocks.
func (d *Dispatcher) Enqueue(out wallet.Outbound) error {
	if out.Intent == nil {
		return fmt.Errorf("runtime: nil intent")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- out:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued intents until ctx is done. Intents still queued at that
// point stay pending in the outbox and their promises are rejected.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.deliver(ctx, out)
		}
	}
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	for {
		select {
		case out := <-d.queue:
			if out.Promise != nil {
				out.Promise.Reject(ErrDispatcherStopped)
			}
		default:
			d.metrics.SetQueueDepth(0)
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, out wallet.Outbound) {
	intent := out.Intent
	var waitErr error
	if d.limiter != nil {
		waitErr = d.limiter.Wait(ctx)
	} else {
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		// Shutdown before hand-over: leave the intent pending for replay.
		if out.Promise != nil {
			out.Promise.Reject(waitErr)
		}
		return
	}
	if !intent.Kind.Mutating() {
		d.answer(ctx, out)
		return
	}
	d.metrics.ObserveDispatchLag(d.nowFn().Sub(time.Unix(int64(intent.CreatedAt), 0)))

	// Outcomes are recorded even when ctx is cancelled during the remote
	// call, otherwise a delivered intent would stay pending and be replayed.
	settleCtx := context.WithoutCancel(ctx)
	if err := d.checkQuota(intent); err != nil {
		observability.ModuleMetrics().RecordThrottle(wallet.ModuleName, "quota_exceeded")
		d.settle(settleCtx, intent, wallet.IntentFailed, err)
		return
	}
	// At most once: the intent leaves pending before the remote sees it.
	handed, err := d.marker.MarkIntent(settleCtx, intent.Seq, wallet.IntentDispatched, "")
	if err != nil {
		d.logger.Error("mark intent failed; not handed over",
			slog.Uint64("seq", intent.Seq),
			slog.Any("error", err))
		return
	}
	if err := d.call(ctx, out); err != nil {
		d.settle(settleCtx, intent, wallet.IntentFailed, err)
		return
	}
	d.finish(settleCtx, handed, nil)
}

// settle marks intent with its final status and reports the outcome.
func (d *Dispatcher) settle(ctx context.Context, intent *wallet.Intent, status wallet.IntentStatus, cause error) {
	updated, err := d.marker.MarkIntent(ctx, intent.Seq, status, cause.Error())
	if err != nil {
		d.logger.Error("mark intent failed",
			slog.Uint64("seq", intent.Seq),
			slog.String("status", status.String()),
			slog.Any("error", err))
		return
	}
	d.finish(ctx, updated, cause)
}

func (d *Dispatcher) finish(ctx context.Context, intent *wallet.Intent, cause error) {
	d.metrics.RecordIntent(string(intent.Kind), intent.Status.String())
	if cause != nil {
		d.logger.Warn("intent dispatch failed",
			slog.Uint64("seq", intent.Seq),
			slog.String("kind", string(intent.Kind)),
			slog.String("reason", intent.Reason))
		d.emitter.Emit(events.IntentDispatchFailed{Seq: intent.Seq, Kind: string(intent.Kind), Target: intent.Target, Reason: intent.Reason})
	} else {
		d.emitter.Emit(events.IntentDispatched{Seq: intent.Seq, Kind: string(intent.Kind), Target: intent.Target})
	}
	if d.journal != nil {
		if err := d.journal.Record(ctx, intent); err != nil {
			d.logger.Error("journal intent failed", slog.Uint64("seq", intent.Seq), slog.Any("error", err))
		}
	}
}

// answer runs a read-only query. Queries are not stored in the outbox, so
// only the promise learns the outcome.
func (d *Dispatcher) answer(ctx context.Context, out wallet.Outbound) {
	intent := out.Intent
	status := wallet.IntentDispatched
	if err := d.call(ctx, out); err != nil {
		status = wallet.IntentFailed
		if out.Promise != nil {
			out.Promise.Reject(err)
		}
		d.logger.Debug("query failed",
			slog.Uint64("query", intent.Seq),
			slog.String("kind", string(intent.Kind)),
			slog.Any("error", err))
	}
	d.metrics.RecordIntent(string(intent.Kind), status.String())
}

func (d *Dispatcher) checkQuota(intent *wallet.Intent) error {
	if d.quota == (common.Quota{}) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	epoch := d.quota.Epoch(d.nowFn().Unix())
	next, err := common.CheckQuota(d.quota, epoch, d.usage[intent.Origin], 1, intent.Gas)
	if err != nil {
		return fmt.Errorf("quota for %s: %w", intent.Origin, err)
	}
	d.usage[intent.Origin] = next
	return nil
}

func (d *Dispatcher) call(ctx context.Context, out wallet.Outbound) error {
	intent := out.Intent
	switch intent.Kind {
	case wallet.IntentCreateRemoteAccount:
		return d.remote.CreateAccount(ctx, intent.Origin, intent.Gas)
	case wallet.IntentCreateLedgerAccount:
		return d.remote.CreateLedgerAccount(ctx, intent.SubAccount, intent.Gas)
	case wallet.IntentTransfer:
		amount, overflow := uint256.FromBig(intent.Amount)
		if overflow {
			return fmt.Errorf("runtime: transfer amount overflows 256 bits")
		}
		return d.remote.Transfer(ctx, intent.Origin, intent.Recipient, amount, intent.Gas)
	case wallet.IntentTotalSupply:
		supply, err := d.remote.TotalSupply(ctx, intent.Gas)
		if err == nil && out.Promise != nil {
			out.Promise.Resolve(supply)
		}
		return err
	case wallet.IntentBalance:
		balance, err := d.remote.BalanceOf(ctx, intent.Owner, intent.Gas)
		if err == nil && out.Promise != nil {
			out.Promise.Resolve(balance)
		}
		return err
	default:
		return fmt.Errorf("runtime: unknown intent kind %q", intent.Kind)
	}
}
