// Copyright 2026 The automation-module Authors

package registry

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/account"
	"github.com/kot2271/Automation-Module-ERC-7579/core/modules"
	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	accountAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	epAddr       = common.HexToAddress("0x3333333333333333333333333333333333333333")
	executorAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	registryAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
	payerAddr    = common.HexToAddress("0x6666666666666666666666666666666666666666")
	recipient    = common.HexToAddress("0x7777777777777777777777777777777777777777")
	strangerAddr = common.HexToAddress("0x8888888888888888888888888888888888888888")
)

type fixture struct {
	rt   *runtime.Runtime
	st   *state.StateDB
	acct *account.Account
	reg  *WorkflowRegistry
}

// newFixture wires a full automation setup: an initialized account with the
// executor module installed, and a registry bound to that executor.
func newFixture(t *testing.T, db *memorydb.Database) *fixture {
	t.Helper()
	st := state.New()
	rt := runtime.New(st, runtime.Config{})

	acct := account.New(accountAddr, account.Config{EntryPoint: epAddr})
	rt.Register(accountAddr, acct)
	if _, err := rt.Call(ownerAddr, accountAddr, nil, account.InitializeAccountInput(ownerAddr)); err != nil {
		t.Fatalf("initializeAccount failed: %v", err)
	}

	exec := modules.NewWorkflowExecutorModule(executorAddr)
	rt.Register(executorAddr, exec)
	install := account.InstallModuleInput(types.ModuleTypeExecutor, executorAddr, nil)
	if _, err := rt.Call(ownerAddr, accountAddr, nil, install); err != nil {
		t.Fatalf("installModule failed: %v", err)
	}

	reg := NewWorkflowRegistry(registryAddr, executorAddr, nil)
	if db != nil {
		reg = NewWorkflowRegistry(registryAddr, executorAddr, db)
	}
	rt.Register(registryAddr, reg)

	return &fixture{rt: rt, st: st, acct: acct, reg: reg}
}

// saveWorkflow stores a single-call transfer payload under id on the account.
func (f *fixture) saveWorkflow(t *testing.T, id uint64, to common.Address, amount uint64) {
	t.Helper()
	payload := types.EncodeSingle(&types.Execution{Target: to, Value: uint256.NewInt(amount)})
	if _, err := f.rt.Call(ownerAddr, accountAddr, nil, account.SaveWorkflowDataInput(id, payload)); err != nil {
		t.Fatalf("saveWorkflowData failed: %v", err)
	}
}

func TestRegisterWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}
	if owner, ok := f.reg.OwnerOf(1); !ok || owner != accountAddr {
		t.Fatalf("registration not recorded: %s", owner)
	}

	// Registration is a one-shot claim, for the same caller too.
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); !errors.Is(err, ErrWorkflowAlreadyRegistered) {
		t.Fatalf("expected ErrWorkflowAlreadyRegistered, got %v", err)
	}
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, RegisterWorkflowInput(1)); !errors.Is(err, ErrWorkflowAlreadyRegistered) {
		t.Fatalf("expected ErrWorkflowAlreadyRegistered for a stranger, got %v", err)
	}

	// Distinct ids are independent claims.
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, RegisterWorkflowInput(2)); err != nil {
		t.Fatalf("registerWorkflow(2) failed: %v", err)
	}
	if owner, _ := f.reg.OwnerOf(2); owner != strangerAddr {
		t.Errorf("id 2 owner: %s", owner)
	}
}

func TestRunWorkflowEndToEnd(t *testing.T) {
	f := newFixture(t, nil)

	// An account stores "send 10 units to recipient" as workflow 1,
	// registers it, and holds exactly the 10 units.
	f.saveWorkflow(t, 1, recipient, 10)
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}
	f.st.AddBalance(accountAddr, big.NewInt(10))

	if _, err := f.rt.Call(payerAddr, registryAddr, nil, RunWorkflowInput(accountAddr, 1)); err != nil {
		t.Fatalf("runWorkflow failed: %v", err)
	}

	if f.st.GetBalance(recipient).Cmp(big.NewInt(10)) != 0 {
		t.Errorf("recipient balance: %s", f.st.GetBalance(recipient))
	}
	if f.st.GetBalance(accountAddr).Sign() != 0 {
		t.Errorf("account balance: %s", f.st.GetBalance(accountAddr))
	}

	// The chain of events is visible in the log trail: the account's
	// execution event and the registry's success event, in that order.
	workflowExecutedTopic := crypto.Keccak256Hash([]byte("WorkflowExecuted(uint256)"))
	var sawExec, sawSuccess bool
	for _, l := range f.st.Logs() {
		switch l.Topics[0] {
		case workflowExecSuccessTopic:
			if l.Address != registryAddr {
				t.Error("success event from wrong emitter")
			}
			sawSuccess = true
		case workflowExecutedTopic:
			if l.Address != accountAddr || l.Topics[1] != idTopic(1) {
				t.Error("malformed account execution event")
			}
			sawExec = true
		}
	}
	if !sawExec {
		t.Error("account execution event missing")
	}
	if !sawSuccess {
		t.Error("registry success event missing")
	}
}

func TestRunWorkflowOwnerMismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.saveWorkflow(t, 1, recipient, 10)
	f.st.AddBalance(accountAddr, big.NewInt(10))
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}

	// The pairing check fires before any executor interaction.
	if _, err := f.rt.Call(payerAddr, registryAddr, nil, RunWorkflowInput(strangerAddr, 1)); !errors.Is(err, ErrInvalidWorkflowAddress) {
		t.Fatalf("expected ErrInvalidWorkflowAddress, got %v", err)
	}
	if f.st.GetBalance(recipient).Sign() != 0 {
		t.Error("mismatched run reached the workflow")
	}

	if _, err := f.rt.Call(payerAddr, registryAddr, nil, RunWorkflowInput(accountAddr, 9)); !errors.Is(err, ErrWorkflowNotRegistered) {
		t.Errorf("expected ErrWorkflowNotRegistered, got %v", err)
	}
}

func TestRunWorkflowFailureReverts(t *testing.T) {
	f := newFixture(t, nil)

	// Workflow 1 wants to move 10 units the account does not have.
	f.saveWorkflow(t, 1, recipient, 10)
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}

	before := len(f.st.Logs())
	if _, err := f.rt.Call(payerAddr, registryAddr, nil, RunWorkflowInput(accountAddr, 1)); !errors.Is(err, ErrWorkflowExecFailed) {
		t.Fatalf("expected ErrWorkflowExecFailed, got %v", err)
	}
	if len(f.st.Logs()) != before {
		t.Error("failed run emitted logs")
	}
	// The registration survives the failed run.
	if _, ok := f.reg.OwnerOf(1); !ok {
		t.Error("failed run dropped the registration")
	}
}

func TestCancelWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}

	// Only the registered owner may cancel.
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, CancelWorkflowInput(1)); !errors.Is(err, ErrNotWorkflowOwner) {
		t.Fatalf("expected ErrNotWorkflowOwner, got %v", err)
	}
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, CancelWorkflowInput(9)); !errors.Is(err, ErrWorkflowNotRegistered) {
		t.Fatalf("expected ErrWorkflowNotRegistered, got %v", err)
	}

	if _, err := f.rt.Call(accountAddr, registryAddr, nil, CancelWorkflowInput(1)); err != nil {
		t.Fatalf("cancelWorkflow failed: %v", err)
	}
	if _, ok := f.reg.OwnerOf(1); ok {
		t.Fatal("registration survived cancel")
	}

	// A cancelled id is free for a fresh claim by anyone.
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Errorf("re-registration after cancel failed: %v", err)
	}
}

func TestRegistrationPersistence(t *testing.T) {
	db := memorydb.New()
	f := newFixture(t, db)

	if _, err := f.rt.Call(accountAddr, registryAddr, nil, RegisterWorkflowInput(1)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}
	if _, err := f.rt.Call(strangerAddr, registryAddr, nil, RegisterWorkflowInput(7)); err != nil {
		t.Fatalf("registerWorkflow failed: %v", err)
	}

	// A fresh registry over the same database loads the bindings back.
	reborn := NewWorkflowRegistry(registryAddr, executorAddr, db)
	if owner, ok := reborn.OwnerOf(1); !ok || owner != accountAddr {
		t.Errorf("id 1 not restored: %s", owner)
	}
	if owner, ok := reborn.OwnerOf(7); !ok || owner != strangerAddr {
		t.Errorf("id 7 not restored: %s", owner)
	}

	// Cancellation clears the persisted record too.
	if _, err := f.rt.Call(accountAddr, registryAddr, nil, CancelWorkflowInput(1)); err != nil {
		t.Fatalf("cancelWorkflow failed: %v", err)
	}
	reborn = NewWorkflowRegistry(registryAddr, executorAddr, db)
	if _, ok := reborn.OwnerOf(1); ok {
		t.Error("cancelled registration restored from database")
	}
}

func TestFailedRegistrationNotPersisted(t *testing.T) {
	st := state.New()
	rt := runtime.New(st, runtime.Config{})
	db := memorydb.New()
	reg := NewWorkflowRegistry(registryAddr, executorAddr, db)
	rt.Register(registryAddr, reg)

	// failer registers a workflow and then fails, dragging the journal back.
	failerAddr := common.HexToAddress("0x9999999999999999999999999999999999999999")
	rt.Register(failerAddr, contractFunc(func(ctx *runtime.CallContext, input []byte) ([]byte, error) {
		if _, err := ctx.Call(registryAddr, nil, RegisterWorkflowInput(3)); err != nil {
			return nil, err
		}
		return nil, errors.New("deliberate failure")
	}))

	if _, err := rt.Call(strangerAddr, failerAddr, nil, []byte{0x01, 0x02, 0x03, 0x04}); err == nil {
		t.Fatal("expected the deliberate failure")
	}
	if _, ok := reg.OwnerOf(3); ok {
		t.Error("reverted registration still in memory")
	}
	reborn := NewWorkflowRegistry(registryAddr, executorAddr, db)
	if _, ok := reborn.OwnerOf(3); ok {
		t.Error("reverted registration persisted")
	}
}

type contractFunc func(ctx *runtime.CallContext, input []byte) ([]byte, error)

func (f contractFunc) Run(ctx *runtime.CallContext, input []byte) ([]byte, error) {
	return f(ctx, input)
}
