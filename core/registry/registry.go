// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Package registry implements the workflow registry (DEP): the cross-account
// coordinator that binds workflow ids to owning accounts and dispatches
// execution triggers through the fixed executor module.

package registry

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kot2271/Automation-Module-ERC-7579/core/rawdb"
	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	ErrWorkflowAlreadyRegistered = errors.New("workflow already registered")
	ErrWorkflowNotRegistered     = errors.New("workflow not registered")
	ErrInvalidWorkflowAddress    = errors.New("invalid address for workflow")
	ErrNotWorkflowOwner          = errors.New("caller is not the workflow owner")
	ErrWorkflowExecFailed        = errors.New("workflow execution failed")
)

var (
	workflowRegisteredTopic  = crypto.Keccak256Hash([]byte("WorkflowRegistered(uint256,address)"))
	workflowExecSuccessTopic = crypto.Keccak256Hash([]byte("WorkflowExecutedSuccessfully(uint256)"))
	workflowCancelledTopic   = crypto.Keccak256Hash([]byte("WorkflowCancelled(uint256,address)"))
)

// WorkflowRegistry records which account owns which workflow id and
// forwards execution triggers to the executor module. The executor module
// reference is fixed at construction and immutable afterwards.
//
// Registrations live in memory and, when a database is supplied, are
// written through under prefixed keys so they survive a restart.
type WorkflowRegistry struct {
	address        common.Address
	executorModule common.Address
	db             ethdb.KeyValueStore

	mu            sync.RWMutex
	registrations map[uint64]common.Address
}

// NewWorkflowRegistry creates a registry bound to its executor module. The
// database is optional; nil keeps registrations purely in memory. Persisted
// registrations are loaded eagerly.
func NewWorkflowRegistry(address, executorModule common.Address, db ethdb.KeyValueStore) *WorkflowRegistry {
	r := &WorkflowRegistry{
		address:        address,
		executorModule: executorModule,
		db:             db,
		registrations:  make(map[uint64]common.Address),
	}
	if db != nil {
		rawdb.IterateWorkflowRegistrations(db, func(id uint64, account common.Address) bool {
			r.registrations[id] = account
			return true
		})
		if n := len(r.registrations); n > 0 {
			log.Info("Loaded workflow registrations", "count", n)
		}
	}
	return r
}

// Address returns the registry's address.
func (r *WorkflowRegistry) Address() common.Address {
	return r.address
}

// ExecutorModule returns the fixed executor module reference.
func (r *WorkflowRegistry) ExecutorModule() common.Address {
	return r.executorModule
}

// OwnerOf returns the registered owner of a workflow id.
func (r *WorkflowRegistry) OwnerOf(id uint64) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.registrations[id]
	return owner, ok
}

// Run dispatches wire calls into the registry.
func (r *WorkflowRegistry) Run(ctx *runtime.CallContext, input []byte) ([]byte, error) {
	sel, args, err := types.SplitInput(input)
	if err != nil {
		return nil, err
	}
	switch sel {
	case types.SelRegisterWorkflow:
		id, err := types.WordUint64(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, r.RegisterWorkflow(ctx, id)
	case types.SelRunWorkflow:
		account, err := types.WordAddress(args, 0)
		if err != nil {
			return nil, err
		}
		id, err := types.WordUint64(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, r.RunWorkflow(ctx, account, id)
	case types.SelCancelWorkflow:
		id, err := types.WordUint64(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, r.CancelWorkflow(ctx, id)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSelector, sel.Hex())
	}
}

// RegisterWorkflow claims a workflow id for the caller. Registration is a
// one-shot claim, not idempotent: an occupied id rejects until its owner
// cancels it.
func (r *WorkflowRegistry) RegisterWorkflow(ctx *runtime.CallContext, id uint64) error {
	owner := ctx.Caller

	r.mu.Lock()
	if occupant, ok := r.registrations[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d held by %s", ErrWorkflowAlreadyRegistered, id, occupant)
	}
	r.registrations[id] = owner
	if r.db != nil {
		rawdb.WriteWorkflowRegistration(r.db, id, owner)
	}
	r.mu.Unlock()

	ctx.State().RecordUndo(func() {
		r.mu.Lock()
		delete(r.registrations, id)
		if r.db != nil {
			rawdb.DeleteWorkflowRegistration(r.db, id)
		}
		r.mu.Unlock()
	})
	ctx.State().AddLog(&gethtypes.Log{
		Address: r.address,
		Topics:  []common.Hash{workflowRegisteredTopic, idTopic(id), common.BytesToHash(owner.Bytes())},
	})
	log.Info("Workflow registered", "id", id, "account", owner)
	return nil
}

// RunWorkflow triggers the execution of a registered workflow. The stored
// owner for the id must equal the given account exactly; the check happens
// before any executor interaction, so a mismatched pairing can never reach
// the executor module. A failed trigger reverts the whole registry call.
func (r *WorkflowRegistry) RunWorkflow(ctx *runtime.CallContext, account common.Address, id uint64) error {
	owner, ok := r.OwnerOf(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrWorkflowNotRegistered, id)
	}
	if owner != account {
		return fmt.Errorf("%w: id %d registered to %s, not %s", ErrInvalidWorkflowAddress, id, owner, account)
	}

	input := make([]byte, 0, 4+64)
	input = append(input, types.SelStartExecuteWorkflow[:]...)
	input = append(input, types.PackUint64(id)...)
	input = append(input, types.PackAddress(account)...)
	if _, err := ctx.Call(r.executorModule, nil, input); err != nil {
		return fmt.Errorf("%w: id %d: %v", ErrWorkflowExecFailed, id, err)
	}

	ctx.State().AddLog(&gethtypes.Log{
		Address: r.address,
		Topics:  []common.Hash{workflowExecSuccessTopic, idTopic(id)},
	})
	log.Info("Workflow run dispatched", "id", id, "account", account)
	return nil
}

// CancelWorkflow removes a registration. Only the registered owner may
// cancel; removal is unconditional deletion, freeing the id for a fresh
// claim by anyone.
func (r *WorkflowRegistry) CancelWorkflow(ctx *runtime.CallContext, id uint64) error {
	caller := ctx.Caller

	r.mu.Lock()
	owner, ok := r.registrations[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrWorkflowNotRegistered, id)
	}
	if owner != caller {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d owned by %s", ErrNotWorkflowOwner, id, owner)
	}
	delete(r.registrations, id)
	if r.db != nil {
		rawdb.DeleteWorkflowRegistration(r.db, id)
	}
	r.mu.Unlock()

	ctx.State().RecordUndo(func() {
		r.mu.Lock()
		r.registrations[id] = owner
		if r.db != nil {
			rawdb.WriteWorkflowRegistration(r.db, id, owner)
		}
		r.mu.Unlock()
	})
	ctx.State().AddLog(&gethtypes.Log{
		Address: r.address,
		Topics:  []common.Hash{workflowCancelledTopic, idTopic(id), common.BytesToHash(owner.Bytes())},
	})
	log.Info("Workflow cancelled", "id", id, "account", owner)
	return nil
}

// RegisterWorkflowInput builds the registerWorkflow call.
func RegisterWorkflowInput(id uint64) []byte {
	return append(types.SelRegisterWorkflow[:], types.PackUint64(id)...)
}

// RunWorkflowInput builds the runWorkflow call.
func RunWorkflowInput(account common.Address, id uint64) []byte {
	out := append([]byte{}, types.SelRunWorkflow[:]...)
	out = append(out, types.PackAddress(account)...)
	return append(out, types.PackUint64(id)...)
}

// CancelWorkflowInput builds the cancelWorkflow call.
func CancelWorkflowInput(id uint64) []byte {
	return append(types.SelCancelWorkflow[:], types.PackUint64(id)...)
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}
