// Copyright 2026 The automation-module Authors

package entrypoint

import (
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/account"
	"github.com/kot2271/Automation-Module-ERC-7579/core/modules"
	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	accountAddr     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerAddr       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	validatorAddr   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	recipientAddr   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	beneficiaryAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func TestDeposits(t *testing.T) {
	rt := runtime.New(state.New(), runtime.Config{})
	ep := New(rt, Config{})

	if ep.GetDeposit(accountAddr).Sign() != 0 {
		t.Fatal("fresh deposit not zero")
	}

	ep.AddDeposit(accountAddr, big.NewInt(100))
	ep.AddDeposit(accountAddr, big.NewInt(50))
	if ep.GetDeposit(accountAddr).Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("deposit: %s", ep.GetDeposit(accountAddr))
	}

	if err := ep.WithdrawDeposit(accountAddr, big.NewInt(120)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if ep.GetDeposit(accountAddr).Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("deposit after withdraw: %s", ep.GetDeposit(accountAddr))
	}

	if err := ep.WithdrawDeposit(accountAddr, big.NewInt(31)); err == nil {
		t.Fatal("overdraw succeeded")
	}
	if err := ep.WithdrawDeposit(ownerAddr, big.NewInt(1)); err == nil {
		t.Fatal("withdraw from empty deposit succeeded")
	}

	// The returned balance is a copy.
	ep.GetDeposit(accountAddr).SetInt64(0)
	if ep.GetDeposit(accountAddr).Cmp(big.NewInt(30)) != 0 {
		t.Error("GetDeposit leaked internal state")
	}
}

type fixture struct {
	rt   *runtime.Runtime
	st   *state.StateDB
	ep   *EntryPoint
	acct *account.Account
	key  *ecdsa.PrivateKey
}

// newFixture assembles a funded account with an ECDSA validator installed
// behind a fresh entry point.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.New()
	rt := runtime.New(st, runtime.Config{})
	ep := New(rt, Config{})

	acct := account.New(accountAddr, account.Config{EntryPoint: ep.Address()})
	rt.Register(accountAddr, acct)
	if _, err := rt.Call(ownerAddr, accountAddr, nil, account.InitializeAccountInput(ownerAddr)); err != nil {
		t.Fatalf("initializeAccount failed: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	v := modules.NewECDSAValidator(validatorAddr)
	rt.Register(validatorAddr, v)
	install := account.InstallModuleInput(types.ModuleTypeValidator, validatorAddr, signer.Bytes())
	if _, err := rt.Call(ownerAddr, accountAddr, nil, install); err != nil {
		t.Fatalf("installModule failed: %v", err)
	}

	st.AddBalance(accountAddr, big.NewInt(1000))
	return &fixture{rt: rt, st: st, ep: ep, acct: acct, key: key}
}

// transferOp builds a signed operation that sends amount units to the
// recipient through the account's execute path.
func (f *fixture) transferOp(t *testing.T, seq uint64, amount uint64) *types.UserOperation {
	t.Helper()
	exec := &types.Execution{Target: recipientAddr, Value: uint256.NewInt(amount)}
	inner := account.ExecuteInput(types.EncodeMode(types.CallTypeSingle), types.EncodeSingle(exec))

	op := &types.UserOperation{
		Sender:       accountAddr,
		Nonce:        types.MakeNonce(validatorAddr, seq),
		CallData:     append(types.SelExecuteUserOp[:], inner...),
		CallGasLimit: 100,
		MaxFeePerGas: uint256.NewInt(1),
	}
	opHash := op.Hash(f.ep.Address(), f.ep.ChainID())
	sig, err := crypto.Sign(opHash.Bytes(), f.key)
	if err != nil {
		t.Fatal(err)
	}
	op.Signature = sig
	return op
}

func TestHandleOpsSuccess(t *testing.T) {
	f := newFixture(t)
	op := f.transferOp(t, 0, 10)

	receipts, err := f.ep.HandleOps([]*types.UserOperation{op}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("got %d receipts, want 1", len(receipts))
	}
	r := receipts[0]
	if !r.Success {
		t.Fatalf("operation failed: %s", r.Reason)
	}
	if r.UserOpHash != op.Hash(f.ep.Address(), f.ep.ChainID()) {
		t.Error("receipt hash mismatch")
	}

	if f.st.GetBalance(recipientAddr).Cmp(big.NewInt(10)) != 0 {
		t.Errorf("recipient balance: %s", f.st.GetBalance(recipientAddr))
	}
	// Prefund = 100 gas at fee 1, passed on to the bundler.
	if f.st.GetBalance(beneficiaryAddr).Cmp(big.NewInt(100)) != 0 {
		t.Errorf("beneficiary balance: %s", f.st.GetBalance(beneficiaryAddr))
	}
	if f.st.GetBalance(accountAddr).Cmp(big.NewInt(890)) != 0 {
		t.Errorf("account balance: %s", f.st.GetBalance(accountAddr))
	}
	if f.st.GetNonce(accountAddr) != 1 {
		t.Errorf("nonce: %d", f.st.GetNonce(accountAddr))
	}
}

func TestHandleOpsBadSignatureSoftFails(t *testing.T) {
	f := newFixture(t)

	bad := f.transferOp(t, 0, 10)
	wrongKey, _ := crypto.GenerateKey()
	sig, _ := crypto.Sign(bad.Hash(f.ep.Address(), f.ep.ChainID()).Bytes(), wrongKey)
	bad.Signature = sig

	good := f.transferOp(t, 0, 5)

	receipts, err := f.ep.HandleOps([]*types.UserOperation{bad, good}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("got %d receipts, want 2", len(receipts))
	}
	if receipts[0].Success {
		t.Error("bad-signature operation succeeded")
	}
	if !strings.Contains(receipts[0].Reason, "validation") {
		t.Errorf("unexpected failure reason: %s", receipts[0].Reason)
	}
	if !receipts[1].Success {
		t.Errorf("good operation dragged down by the bad one: %s", receipts[1].Reason)
	}

	// Only the good operation moved funds or consumed the nonce.
	if f.st.GetBalance(recipientAddr).Cmp(big.NewInt(5)) != 0 {
		t.Errorf("recipient balance: %s", f.st.GetBalance(recipientAddr))
	}
	if f.st.GetNonce(accountAddr) != 1 {
		t.Errorf("nonce: %d", f.st.GetNonce(accountAddr))
	}
}

func TestHandleOpsWrongNonce(t *testing.T) {
	f := newFixture(t)
	op := f.transferOp(t, 5, 10)

	receipts, err := f.ep.HandleOps([]*types.UserOperation{op}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if receipts[0].Success {
		t.Fatal("out-of-sequence operation succeeded")
	}
	if !strings.Contains(receipts[0].Reason, "nonce") {
		t.Errorf("unexpected failure reason: %s", receipts[0].Reason)
	}
	if f.st.GetBalance(recipientAddr).Sign() != 0 {
		t.Error("rejected operation moved funds")
	}
}

func TestHandleOpsNilOp(t *testing.T) {
	f := newFixture(t)

	receipts, err := f.ep.HandleOps([]*types.UserOperation{nil}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Success {
		t.Error("nil operation produced no failure receipt")
	}
}

func TestHandleOpsDepositCoversPrefund(t *testing.T) {
	f := newFixture(t)
	f.ep.AddDeposit(accountAddr, big.NewInt(100))

	op := f.transferOp(t, 0, 10)
	receipts, err := f.ep.HandleOps([]*types.UserOperation{op}, common.Address{})
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if !receipts[0].Success {
		t.Fatalf("operation failed: %s", receipts[0].Reason)
	}

	// The deposit absorbed the prefund: the account paid only the transfer.
	if f.st.GetBalance(accountAddr).Cmp(big.NewInt(990)) != 0 {
		t.Errorf("account balance: %s", f.st.GetBalance(accountAddr))
	}
	if f.ep.GetDeposit(accountAddr).Sign() != 0 {
		t.Errorf("deposit not consumed: %s", f.ep.GetDeposit(accountAddr))
	}
}

func TestHandleOpsExecutionFailureConsumesNonce(t *testing.T) {
	f := newFixture(t)

	// Validation passes but the transfer overdraws the account.
	op := f.transferOp(t, 0, 100000)
	receipts, err := f.ep.HandleOps([]*types.UserOperation{op}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if receipts[0].Success {
		t.Fatal("overdrawing operation succeeded")
	}
	if receipts[0].Reason == "" {
		t.Error("failure receipt carries no reason")
	}
	// The nonce is burned by the failed execution.
	if f.st.GetNonce(accountAddr) != 1 {
		t.Errorf("nonce: %d", f.st.GetNonce(accountAddr))
	}

	// The next sequence number is accepted.
	next := f.transferOp(t, 1, 10)
	receipts, err = f.ep.HandleOps([]*types.UserOperation{next, f.transferOp(t, 0, 10)}, beneficiaryAddr)
	if err != nil {
		t.Fatalf("HandleOps failed: %v", err)
	}
	if !receipts[0].Success {
		t.Errorf("follow-up operation failed: %s", receipts[0].Reason)
	}
	// The stale sequence is rejected.
	if receipts[1].Success {
		t.Error("replayed sequence accepted")
	}
}
