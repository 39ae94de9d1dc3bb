package vm

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/gpsrunner/anticheat"
	"github.com/tolelom/gpsrunner/bank"
	"github.com/tolelom/gpsrunner/core"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/marker"
	"github.com/tolelom/gpsrunner/staking"
)

// Clock returns the current time in unix seconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 { return time.Now().Unix() }

// Context is passed to every Handler. It carries the caller capability, the
// triggering transaction and ledgers bound to this call's state and event
// buffer.
type Context struct {
	Call    core.Call
	Tx      *core.Transaction
	State   core.State
	Events  events.Sink
	Markers *marker.Ledger
	Staking *staking.Ledger

	result any
}

// SetResult records a value returned to the submitter in the receipt.
func (c *Context) SetResult(v any) { c.result = v }

// Receipt describes an applied transaction.
type Receipt struct {
	TxID   string      `json:"tx_id"`
	Type   core.TxType `json:"type"`
	From   string      `json:"from"`
	Time   int64       `json:"time"`
	Result any         `json:"result,omitempty"`
}

// Options configures an Executor. Zero fields fall back to defaults.
type Options struct {
	ChainID string
	Clock   Clock
	ACL     ACL
	Gate    *anticheat.Gate
	Staking staking.Params
	Logger  *zap.Logger
}

// Executor applies transactions to the state using the global Handler
// registry. Transactions are serialized behind a single writer lock; views
// share a read lock.
type Executor struct {
	mu      sync.RWMutex
	state   core.State
	emitter *events.Emitter
	opts    Options
	log     *zap.Logger
}

// NewExecutor creates an Executor over state. Committed calls' events are
// delivered to emitter, which may be nil.
func NewExecutor(state core.State, emitter *events.Emitter, opts Options) *Executor {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Gate == nil {
		opts.Gate = anticheat.NewGate(anticheat.DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{
		state:   state,
		emitter: emitter,
		opts:    opts,
		log:     opts.Logger.Named("executor"),
	}
}

// ExecuteTx verifies tx and applies it atomically: every write of the call
// is committed, or none is. Events raised by the call reach subscribers only
// after the commit.
func (e *Executor) ExecuteTx(tx *core.Transaction) (*Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, core.WrapError(core.CodeNotAuthorized, "signature", err)
	}
	if e.opts.ChainID != "" && tx.ChainID != e.opts.ChainID {
		return nil, core.NewError(core.CodeInvalidInput,
			fmt.Sprintf("chain id %q, want %q", tx.ChainID, e.opts.ChainID))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.opts.Clock()
	buf := events.NewBuffer(tx.ID, now)

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	var ctx *Context
	err = e.guard(snapID, buf, func() error {
		var applyErr error
		ctx, applyErr = e.applyTx(tx, now, buf)
		return applyErr
	})
	if err != nil {
		buf.Discard()
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		e.log.Debug("tx rejected",
			zap.String("tx", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.String("kind", string(core.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	if err := e.state.Commit(); err != nil {
		e.log.Error("commit failed", zap.String("tx", tx.ID), zap.Error(err))
		return nil, fmt.Errorf("commit: %w", err)
	}

	buf.Emit(events.Event{
		Type: events.EventTxExecuted,
		Data: map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	if e.emitter != nil {
		buf.Flush(e.emitter)
	}
	e.log.Info("tx applied",
		zap.String("tx", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.String("from", tx.From))

	return &Receipt{TxID: tx.ID, Type: tx.Type, From: tx.From, Time: now, Result: ctx.result}, nil
}

// applyTx checks and increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(tx *core.Transaction, now int64, buf *events.Buffer) (*Context, error) {
	if bank.IsSystemAccount(tx.From) {
		return nil, core.NewError(core.CodeSystemAccountInvalid, "system accounts cannot send transactions")
	}
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return nil, core.NewError(core.CodeInvalidNonce,
			fmt.Sprintf("expected nonce %d got %d", acc.Nonce, tx.Nonce))
	}
	if acc.Nonce == math.MaxUint64 {
		return nil, fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return nil, err
	}

	ctx := &Context{
		Call: core.Call{
			Caller: e.opts.ACL.Caller(tx.From),
			Now:    now,
			TxID:   tx.ID,
		},
		Tx:      tx,
		State:   e.state,
		Events:  buf,
		Markers: marker.NewLedger(e.state, e.opts.Gate, buf),
		Staking: staking.NewLedger(e.state, e.opts.Staking, buf),
	}
	if err := globalRegistry.Execute(tx.Type, ctx, tx.Payload); err != nil {
		return nil, err
	}
	return ctx, nil
}

// guard runs fn. If fn panics, the state is reverted to snapID before the
// panic continues, so none of the call's writes reach a later commit.
func (e *Executor) guard(snapID int, buf *events.Buffer, fn func() error) error {
	defer func() {
		if r := recover(); r != nil {
			buf.Discard()
			if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
				e.log.Error("revert after panic failed", zap.Error(revertErr))
			}
			e.log.Error("call panicked, writes reverted", zap.Any("panic", r))
			panic(r)
		}
	}()
	return fn()
}

// View exposes read-only ledgers over committed state.
type View struct {
	Now     int64
	State   core.State
	Markers *marker.Ledger
	Staking *staking.Ledger
}

// View runs fn under the read lock. fn must not write.
func (e *Executor) View(fn func(v *View) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(&View{
		Now:     e.opts.Clock(),
		State:   e.state,
		Markers: marker.NewLedger(e.state, e.opts.Gate, nil),
		Staking: staking.NewLedger(e.state, e.opts.Staking, nil),
	})
}

// Genesis applies fn as an unsigned system call and commits it. It is used
// once on a fresh database to mint allocations and configure pools.
func (e *Executor) Genesis(admin string, fn func(ctx *Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.opts.Clock()
	buf := events.NewBuffer("genesis", now)
	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	ctx := &Context{
		Call: core.Call{
			Caller: core.Caller{Identity: admin, Roles: core.RoleAdmin},
			Now:    now,
			TxID:   "genesis",
		},
		State:   e.state,
		Events:  buf,
		Markers: marker.NewLedger(e.state, e.opts.Gate, buf),
		Staking: staking.NewLedger(e.state, e.opts.Staking, buf),
	}
	if err := e.guard(snapID, buf, func() error { return fn(ctx) }); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("genesis: %w (revert: %v)", err, revertErr)
		}
		return fmt.Errorf("genesis: %w", err)
	}
	if err := e.state.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	if e.emitter != nil {
		buf.Flush(e.emitter)
	}
	return nil
}

// StateRoot returns the state root of committed state.
func (e *Executor) StateRoot() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ComputeRoot()
}
