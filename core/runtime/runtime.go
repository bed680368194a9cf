// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// The runtime routes calls between registered contracts. Every call runs
// against a journal snapshot: a failed call reverts everything it mutated,
// including nested calls, giving the structural atomicity the account core
// relies on. Caller identity is minted by the runtime, never by the caller.

package runtime

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrCallDepthExceeded   = errors.New("max call depth exceeded")
	ErrNoContract          = errors.New("call target has no contract")
)

// DefaultMaxCallDepth bounds nested calls. Workflow payloads are
// caller-chosen, so runaway recursion must be cut off by the runtime.
const DefaultMaxCallDepth = 64

// Contract is an addressable unit dispatchable by the runtime.
type Contract interface {
	Run(ctx *CallContext, input []byte) ([]byte, error)
}

// Config holds the runtime configuration.
type Config struct {
	MaxCallDepth int // 0 means DefaultMaxCallDepth
}

// Runtime routes calls between registered contracts over a shared StateDB.
type Runtime struct {
	mu        sync.RWMutex
	state     *state.StateDB
	contracts map[common.Address]Contract
	maxDepth  int

	logFeed event.Feed
	scope   event.SubscriptionScope
}

// New creates a runtime over the given state.
func New(st *state.StateDB, cfg Config) *Runtime {
	depth := cfg.MaxCallDepth
	if depth == 0 {
		depth = DefaultMaxCallDepth
	}
	return &Runtime{
		state:     st,
		contracts: make(map[common.Address]Contract),
		maxDepth:  depth,
	}
}

// Register binds a contract to an address.
func (r *Runtime) Register(addr common.Address, c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[addr] = c
	r.state.CreateAccount(addr)
}

// ContractAt returns the contract registered at an address, or nil.
func (r *Runtime) ContractAt(addr common.Address) Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts[addr]
}

// State returns the runtime's state database.
func (r *Runtime) State() *state.StateDB {
	return r.state
}

// SubscribeLogs subscribes to the event logs of committed top-level calls.
// Reverted calls publish nothing.
func (r *Runtime) SubscribeLogs(ch chan<- []*gethtypes.Log) event.Subscription {
	return r.scope.Track(r.logFeed.Subscribe(ch))
}

// Call performs a top-level invocation with the given caller identity. On
// success the logs appended during the call are published to subscribers;
// on failure every state mutation of the call is reverted.
func (r *Runtime) Call(caller, target common.Address, value *big.Int, input []byte) ([]byte, error) {
	mark := len(r.state.Logs())
	ret, err := r.exec(caller, target, value, input, 0)
	if err != nil {
		log.Debug("Top-level call reverted", "caller", caller, "target", target, "err", err)
		return nil, err
	}
	if committed := r.state.Logs()[mark:]; len(committed) > 0 {
		r.logFeed.Send(committed)
	}
	return ret, nil
}

// exec runs one call frame: snapshot, value transfer, dispatch, and revert
// to the snapshot on any error.
func (r *Runtime) exec(caller, target common.Address, value *big.Int, input []byte, depth int) ([]byte, error) {
	if depth > r.maxDepth {
		return nil, ErrCallDepthExceeded
	}
	snap := r.state.Snapshot()

	if value != nil && value.Sign() > 0 {
		if r.state.GetBalance(caller).Cmp(value) < 0 {
			r.state.RevertToSnapshot(snap)
			return nil, ErrInsufficientBalance
		}
		r.state.SubBalance(caller, value)
		r.state.AddBalance(target, value)
	}

	if len(input) == 0 {
		// Plain value transfer, no dispatch.
		return nil, nil
	}
	c := r.ContractAt(target)
	if c == nil {
		r.state.RevertToSnapshot(snap)
		return nil, ErrNoContract
	}

	ctx := &CallContext{
		rt:     r,
		Caller: caller,
		Self:   target,
		Value:  valueOrZero(value),
		depth:  depth,
	}
	ret, err := c.Run(ctx, input)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return nil, err
	}
	return ret, nil
}

// CallContext carries the identity and environment of one call frame.
type CallContext struct {
	rt     *Runtime
	Caller common.Address // authenticated immediate caller
	Self   common.Address // the contract being run
	Value  *big.Int       // value transferred with this call
	depth  int
}

// Call performs a nested call from the current frame. The caller identity
// of the nested frame is the current contract, by construction.
func (ctx *CallContext) Call(target common.Address, value *big.Int, input []byte) ([]byte, error) {
	return ctx.rt.exec(ctx.Self, target, value, input, ctx.depth+1)
}

// State returns the shared state database.
func (ctx *CallContext) State() *state.StateDB {
	return ctx.rt.state
}

// Depth returns the current call depth.
func (ctx *CallContext) Depth() int {
	return ctx.depth
}

// ContractAt resolves the contract registered at an address, letting a
// frame probe a module's capability surface before wiring calls to it.
func (ctx *CallContext) ContractAt(addr common.Address) Contract {
	return ctx.rt.ContractAt(addr)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
