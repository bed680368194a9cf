// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Cross-component calls travel as a 4-byte selector followed by 32-byte
// argument words and, where the signature ends in bytes, a trailing raw
// blob. The selector is the first four bytes of the Keccak-256 hash of the
// canonical signature string.

package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Selector is a 4-byte function selector.
type Selector [4]byte

func (s Selector) Hex() string {
	return fmt.Sprintf("0x%x", s[:])
}

// SelectorOf computes the selector of a canonical signature string.
func SelectorOf(sig string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	var sum [32]byte
	h.Sum(sum[:0])
	var sel Selector
	copy(sel[:], sum[:4])
	return sel
}

// Canonical selectors of the account, registry and module wire surface.
var (
	SelInitializeAccount = SelectorOf("initializeAccount(address)")
	SelGrantRole         = SelectorOf("grantRole(uint8,address)")
	SelRevokeRole        = SelectorOf("revokeRole(uint8,address)")

	SelInstallModule     = SelectorOf("installModule(uint256,address,bytes)")
	SelUninstallModule   = SelectorOf("uninstallModule(uint256,address,bytes)")
	SelIsModuleInstalled = SelectorOf("isModuleInstalled(uint256,address,bytes)")

	SelValidateUserOp = SelectorOf("validateUserOp(bytes32,uint256,bytes)")
	SelExecuteUserOp  = SelectorOf("executeUserOp(bytes)")

	SelExecute             = SelectorOf("execute(bytes32,bytes)")
	SelExecuteFromExecutor = SelectorOf("executeFromExecutor(bytes32,bytes)")

	SelSaveWorkflowData = SelectorOf("saveWorkflowData(uint256,bytes)")
	SelExecuteWorkflow  = SelectorOf("executeWorkflow(uint256)")
	SelAuthorizeUpgrade = SelectorOf("authorizeUpgrade(address)")

	SelRegisterWorkflow = SelectorOf("registerWorkflow(uint256)")
	SelRunWorkflow      = SelectorOf("runWorkflow(address,uint256)")
	SelCancelWorkflow   = SelectorOf("cancelWorkflow(uint256)")

	SelOnInstall                  = SelectorOf("onInstall(bytes)")
	SelOnUninstall                = SelectorOf("onUninstall(bytes)")
	SelStartExecuteWorkflow       = SelectorOf("startExecuteWorkflow(uint256,address)")
	SelIsValidSignatureWithSender = SelectorOf("isValidSignatureWithSender(address,bytes32,bytes)")
)

var (
	ErrShortInput      = errors.New("call input shorter than selector")
	ErrMalformedInput  = errors.New("malformed call input")
	ErrUnknownSelector = errors.New("unknown selector")
)

// SplitInput separates the selector from the argument bytes.
func SplitInput(input []byte) (Selector, []byte, error) {
	if len(input) < 4 {
		return Selector{}, nil, ErrShortInput
	}
	var sel Selector
	copy(sel[:], input[:4])
	return sel, input[4:], nil
}

// Word returns the i-th 32-byte argument word.
func Word(args []byte, i int) ([32]byte, error) {
	var w [32]byte
	if len(args) < (i+1)*32 {
		return w, fmt.Errorf("%w: missing word %d", ErrMalformedInput, i)
	}
	copy(w[:], args[i*32:(i+1)*32])
	return w, nil
}

// WordAddress decodes the i-th word as a right-aligned address.
func WordAddress(args []byte, i int) (common.Address, error) {
	w, err := Word(args, i)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w[12:]), nil
}

// WordUint64 decodes the i-th word as a uint64, rejecting overflow.
func WordUint64(args []byte, i int) (uint64, error) {
	w, err := Word(args, i)
	if err != nil {
		return 0, err
	}
	v := new(uint256.Int).SetBytes(w[:])
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: word %d exceeds uint64", ErrMalformedInput, i)
	}
	return v.Uint64(), nil
}

// WordUint256 decodes the i-th word as a uint256.
func WordUint256(args []byte, i int) (*uint256.Int, error) {
	w, err := Word(args, i)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(w[:]), nil
}

// Tail returns the raw trailing blob after n argument words.
func Tail(args []byte, n int) ([]byte, error) {
	if len(args) < n*32 {
		return nil, fmt.Errorf("%w: missing tail after %d words", ErrMalformedInput, n)
	}
	return args[n*32:], nil
}

// PackAddress encodes an address as a right-aligned 32-byte word.
func PackAddress(a common.Address) []byte {
	return common.BytesToHash(a.Bytes()).Bytes()
}

// PackUint64 encodes a uint64 as a 32-byte word.
func PackUint64(v uint64) []byte {
	return u256Word(uint256.NewInt(v))
}

// PackUint256 encodes a uint256 as a 32-byte word.
func PackUint256(v *uint256.Int) []byte {
	return u256Word(v)
}
