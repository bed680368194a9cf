// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// EntryPoint is the designated external trigger of the account protocol:
// it sequences operation nonces, collects prefunds through the accounts'
// validateUserOp, and drives execution through executeUserOp.

package entrypoint

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/account"
	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	// DefaultAddress is the well-known entry point address.
	DefaultAddress = common.HexToAddress("0x0000000000000000000000000000000000AA7579")

	ErrInvalidUserOp    = errors.New("invalid user operation")
	ErrValidationFailed = errors.New("user operation validation failed")
	ErrNonceInvalid     = errors.New("invalid user operation nonce")
)

// Config holds the entry point configuration.
type Config struct {
	Address common.Address // zero selects DefaultAddress
	ChainID *uint256.Int   // nil selects chain id 1
}

// EntryPoint processes batches of user operations against accounts
// registered on a runtime.
type EntryPoint struct {
	address common.Address
	chainID *uint256.Int
	rt      *runtime.Runtime

	mu       sync.RWMutex
	deposits map[common.Address]*big.Int
}

// New creates an entry point over a runtime.
func New(rt *runtime.Runtime, cfg Config) *EntryPoint {
	addr := cfg.Address
	if addr == (common.Address{}) {
		addr = DefaultAddress
	}
	chainID := cfg.ChainID
	if chainID == nil {
		chainID = uint256.NewInt(1)
	}
	ep := &EntryPoint{
		address:  addr,
		chainID:  chainID,
		rt:       rt,
		deposits: make(map[common.Address]*big.Int),
	}
	rt.State().CreateAccount(addr)
	return ep
}

// Address returns the entry point address.
func (ep *EntryPoint) Address() common.Address {
	return ep.address
}

// ChainID returns the chain id operations are hashed against.
func (ep *EntryPoint) ChainID() *uint256.Int {
	return ep.chainID
}

// GetDeposit returns the deposit balance for an address.
func (ep *EntryPoint) GetDeposit(addr common.Address) *big.Int {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if d, ok := ep.deposits[addr]; ok {
		return new(big.Int).Set(d)
	}
	return big.NewInt(0)
}

// AddDeposit adds to the deposit balance for an address.
func (ep *EntryPoint) AddDeposit(addr common.Address, amount *big.Int) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if _, ok := ep.deposits[addr]; !ok {
		ep.deposits[addr] = new(big.Int)
	}
	ep.deposits[addr].Add(ep.deposits[addr], amount)
}

// WithdrawDeposit withdraws from the deposit balance.
func (ep *EntryPoint) WithdrawDeposit(addr common.Address, amount *big.Int) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	d, ok := ep.deposits[addr]
	if !ok || d.Cmp(amount) < 0 {
		return fmt.Errorf("withdraw amount %s exceeds deposit %s", amount, ep.depositLocked(addr))
	}
	d.Sub(d, amount)
	return nil
}

func (ep *EntryPoint) depositLocked(addr common.Address) *big.Int {
	if d, ok := ep.deposits[addr]; ok {
		return d
	}
	return new(big.Int)
}

// UserOpReceipt contains the processing result for one user operation.
type UserOpReceipt struct {
	UserOpHash common.Hash    `json:"userOpHash"`
	Sender     common.Address `json:"sender"`
	Nonce      *uint256.Int   `json:"nonce"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
}

// HandleOps processes a batch of user operations. A failed operation,
// including one whose account soft-fails validation, produces a receipt
// with success=false and never aborts the rest of the batch.
func (ep *EntryPoint) HandleOps(ops []*types.UserOperation, beneficiary common.Address) ([]*UserOpReceipt, error) {
	receipts := make([]*UserOpReceipt, 0, len(ops))

	for _, op := range ops {
		receipt, err := ep.handleOp(op, beneficiary)
		if err != nil {
			log.Warn("UserOp failed", "sender", senderOf(op), "err", err)
			if receipt == nil {
				receipt = &UserOpReceipt{
					Sender:  senderOf(op),
					Success: false,
					Reason:  err.Error(),
				}
				if op != nil {
					receipt.UserOpHash = op.Hash(ep.address, ep.chainID)
					receipt.Nonce = op.Nonce
				}
			}
		}
		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// handleOp processes one user operation through validation and execution.
func (ep *EntryPoint) handleOp(op *types.UserOperation, beneficiary common.Address) (*UserOpReceipt, error) {
	if op == nil {
		return nil, ErrInvalidUserOp
	}
	opHash := op.Hash(ep.address, ep.chainID)
	receipt := &UserOpReceipt{
		UserOpHash: opHash,
		Sender:     op.Sender,
		Nonce:      op.Nonce,
	}

	if err := ep.validateNonce(op); err != nil {
		receipt.Reason = err.Error()
		return receipt, err
	}

	// The prefund owed by the account: whatever its deposit does not cover.
	requiredPrefund := ep.requiredPrefund(op)
	missingFunds := new(big.Int).Sub(requiredPrefund, ep.GetDeposit(op.Sender))
	if missingFunds.Sign() < 0 {
		missingFunds.SetInt64(0)
	}
	consumed := new(big.Int).Sub(requiredPrefund, missingFunds)

	input, err := account.ValidateUserOpInput(op, opHash, missingFunds)
	if err != nil {
		receipt.Reason = err.Error()
		return receipt, err
	}
	ret, err := ep.rt.Call(ep.address, op.Sender, nil, input)
	if err != nil {
		receipt.Reason = err.Error()
		return receipt, fmt.Errorf("validation: %w", err)
	}
	if types.ValidationSigFailed(new(uint256.Int).SetBytes(ret)) {
		// Soft failure: the op is excluded, the batch continues.
		receipt.Reason = ErrValidationFailed.Error()
		return receipt, ErrValidationFailed
	}
	if consumed.Sign() > 0 {
		if err := ep.WithdrawDeposit(op.Sender, consumed); err != nil {
			receipt.Reason = err.Error()
			return receipt, err
		}
	}

	// Validation passed; the nonce is consumed even if execution fails.
	st := ep.rt.State()
	st.SetNonce(op.Sender, st.GetNonce(op.Sender)+1)

	execInput, err := account.ExecuteUserOpInput(op)
	if err != nil {
		receipt.Reason = err.Error()
		return receipt, err
	}
	if _, err := ep.rt.Call(ep.address, op.Sender, nil, execInput); err != nil {
		receipt.Reason = err.Error()
		return receipt, nil
	}

	// Pass the collected prefund on to the bundler.
	if requiredPrefund.Sign() > 0 && beneficiary != (common.Address{}) {
		received := st.GetBalance(ep.address)
		if received.Cmp(requiredPrefund) < 0 {
			requiredPrefund = received
		}
		st.SubBalance(ep.address, requiredPrefund)
		st.AddBalance(beneficiary, requiredPrefund)
	}

	receipt.Success = true
	return receipt, nil
}

// validateNonce checks the 64-bit sequence segment of the operation nonce
// against the stored nonce. The validator-key high bits are not sequenced.
func (ep *EntryPoint) validateNonce(op *types.UserOperation) error {
	if op.Nonce == nil {
		return ErrNonceInvalid
	}
	expected := ep.rt.State().GetNonce(op.Sender)
	seq := types.NonceSequence(op.Nonce)
	if seq != expected {
		return fmt.Errorf("%w: expected sequence %d, got %d", ErrNonceInvalid, expected, seq)
	}
	return nil
}

// requiredPrefund computes the prefund owed for an operation. Gas economics
// beyond the prefund are out of scope; the prefund is the operation's total
// gas limit at its max fee.
func (ep *EntryPoint) requiredPrefund(op *types.UserOperation) *big.Int {
	fee := new(big.Int)
	if op.MaxFeePerGas != nil {
		fee = op.MaxFeePerGas.ToBig()
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(op.TotalGasLimit()), fee)
}

func senderOf(op *types.UserOperation) common.Address {
	if op == nil {
		return common.Address{}
	}
	return op.Sender
}
