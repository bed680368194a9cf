// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// The workflow executor module: installed on an account as its executor, it
// is the only module the workflow registry is wired to, and it triggers the
// account's stored workflow on the registry's behalf.

package modules

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	ErrAccountAlreadyInitialized  = errors.New("account already initialized on executor module")
	ErrAccountNotInitialized      = errors.New("account not initialized on executor module")
	ErrInstallDataMismatch        = errors.New("uninstall data does not match install data")
	ErrStartExecuteWorkflowFailed = errors.New("start execute workflow failed")
)

var startExecuteWorkflowTopic = crypto.Keccak256Hash([]byte("StartExecuteWorkflow(uint256)"))

// WorkflowExecutorModule tracks per-account initialization state and
// forwards workflow triggers into the owning account.
type WorkflowExecutorModule struct {
	address common.Address

	mu       sync.RWMutex
	accounts map[common.Address][]byte // installed account -> install data
}

// NewWorkflowExecutorModule creates the executor module at an address.
func NewWorkflowExecutorModule(address common.Address) *WorkflowExecutorModule {
	return &WorkflowExecutorModule{
		address:  address,
		accounts: make(map[common.Address][]byte),
	}
}

// Address returns the module's address.
func (m *WorkflowExecutorModule) Address() common.Address {
	return m.address
}

// IsModuleType reports the executor capability only.
func (m *WorkflowExecutorModule) IsModuleType(typ types.ModuleType) bool {
	return typ == types.ModuleTypeExecutor
}

func (m *WorkflowExecutorModule) Name() string    { return "workflow-executor" }
func (m *WorkflowExecutorModule) Version() string { return "1.0.0" }

// IsInitialized reports whether an account has installed this module.
func (m *WorkflowExecutorModule) IsInitialized(account common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[account]
	return ok
}

// Run dispatches wire calls into the module.
func (m *WorkflowExecutorModule) Run(ctx *runtime.CallContext, input []byte) ([]byte, error) {
	sel, args, err := types.SplitInput(input)
	if err != nil {
		return nil, err
	}
	switch sel {
	case types.SelOnInstall:
		return nil, m.OnInstall(ctx, args)
	case types.SelOnUninstall:
		return nil, m.OnUninstall(ctx, args)
	case types.SelStartExecuteWorkflow:
		id, err := types.WordUint64(args, 0)
		if err != nil {
			return nil, err
		}
		account, err := types.WordAddress(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, m.StartExecuteWorkflow(ctx, id, account)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSelector, sel.Hex())
	}
}

// OnInstall records the calling account as initialized, storing the install
// data for the echo check at uninstall. Double initialization is rejected.
func (m *WorkflowExecutorModule) OnInstall(ctx *runtime.CallContext, data []byte) error {
	account := ctx.Caller

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account]; ok {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInitialized, account)
	}
	m.accounts[account] = common.CopyBytes(data)
	ctx.State().RecordUndo(func() {
		m.mu.Lock()
		delete(m.accounts, account)
		m.mu.Unlock()
	})
	log.Debug("Executor module installed", "account", account, "dataLen", len(data))
	return nil
}

// OnUninstall clears the calling account's state. The supplied data must
// match the stored install data byte for byte or the uninstall is rejected,
// leaving state untouched.
func (m *WorkflowExecutorModule) OnUninstall(ctx *runtime.CallContext, data []byte) error {
	account := ctx.Caller

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotInitialized, account)
	}
	if !bytes.Equal(stored, data) {
		return fmt.Errorf("%w: account %s", ErrInstallDataMismatch, account)
	}
	delete(m.accounts, account)
	ctx.State().RecordUndo(func() {
		m.mu.Lock()
		m.accounts[account] = stored
		m.mu.Unlock()
	})
	log.Debug("Executor module uninstalled", "account", account)
	return nil
}

// StartExecuteWorkflow triggers the stored workflow of an initialized
// account. A failure of the nested executeWorkflow call propagates wrapped,
// never swallowed, so the registry's own failure path fires.
func (m *WorkflowExecutorModule) StartExecuteWorkflow(ctx *runtime.CallContext, id uint64, account common.Address) error {
	if !m.IsInitialized(account) {
		return fmt.Errorf("%w: %s", ErrAccountNotInitialized, account)
	}

	input := append(types.SelExecuteWorkflow[:], types.PackUint64(id)...)
	if _, err := ctx.Call(account, nil, input); err != nil {
		return fmt.Errorf("%w: workflow %d on %s: %v", ErrStartExecuteWorkflowFailed, id, account, err)
	}
	ctx.State().AddLog(&gethtypes.Log{
		Address: m.address,
		Topics:  []common.Hash{startExecuteWorkflowTopic, common.BigToHash(new(big.Int).SetUint64(id))},
	})
	log.Info("Workflow execution triggered", "id", id, "account", account)
	return nil
}
