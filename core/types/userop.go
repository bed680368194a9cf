// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// UserOperation is the externally-submitted request validated by a smart
// account before any execution effect (ERC-4337 style).

package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// UserOperation represents an ERC-4337 compatible user operation.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *uint256.Int   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         uint64         `json:"callGasLimit"`
	VerificationGasLimit uint64         `json:"verificationGasLimit"`
	PreVerificationGas   uint64         `json:"preVerificationGas"`
	MaxFeePerGas         *uint256.Int   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *uint256.Int   `json:"maxPriorityFeePerGas"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// TotalGasLimit returns the total gas required for the operation.
func (op *UserOperation) TotalGasLimit() uint64 {
	return op.CallGasLimit + op.VerificationGasLimit + op.PreVerificationGas
}

// Hash computes the operation hash bound to an entry point and chain id.
// The signature field is excluded so the hash can be signed.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *uint256.Int) common.Hash {
	packed := make([]byte, 0, 256)
	packed = append(packed, op.Sender.Bytes()...)
	packed = append(packed, u256Word(op.Nonce)...)
	packed = append(packed, crypto.Keccak256(op.InitCode)...)
	packed = append(packed, crypto.Keccak256(op.CallData)...)
	packed = append(packed, u256Word(uint256.NewInt(op.CallGasLimit))...)
	packed = append(packed, u256Word(uint256.NewInt(op.VerificationGasLimit))...)
	packed = append(packed, u256Word(uint256.NewInt(op.PreVerificationGas))...)
	packed = append(packed, u256Word(op.MaxFeePerGas)...)
	packed = append(packed, u256Word(op.MaxPriorityFeePerGas)...)

	inner := crypto.Keccak256(packed)

	outer := make([]byte, 0, 96)
	outer = append(outer, inner...)
	outer = append(outer, common.BytesToHash(entryPoint.Bytes()).Bytes()...)
	outer = append(outer, u256Word(chainID)...)

	return common.BytesToHash(crypto.Keccak256(outer))
}

// ValidatorFromNonce extracts the validator module address encoded in the
// high-order 20 bytes of the operation nonce. The low 8 bytes carry the
// replay-protection sequence and are not part of the validator key.
func ValidatorFromNonce(nonce *uint256.Int) common.Address {
	b := u256OrZero(nonce).Bytes32()
	return common.BytesToAddress(b[:20])
}

// NonceSequence extracts the 64-bit sequence from the low-order bytes of the
// operation nonce.
func NonceSequence(nonce *uint256.Int) uint64 {
	b := u256OrZero(nonce).Bytes32()
	return binary.BigEndian.Uint64(b[24:32])
}

// MakeNonce packs a validator address and a sequence number into a nonce.
func MakeNonce(validator common.Address, seq uint64) *uint256.Int {
	var b [32]byte
	copy(b[:20], validator.Bytes())
	binary.BigEndian.PutUint64(b[24:], seq)
	return new(uint256.Int).SetBytes(b[:])
}

// Validation data sentinels. The low-order 160 bits carry the authorizer:
// zero means the signature was accepted, one is the canonical "validation
// failed" marker that excludes an operation without aborting a batch.
var (
	ValidationSucceeded = uint256.NewInt(0)
	ValidationFailed    = uint256.NewInt(1)
)

// PackValidationData packs an authorizer address with a validity window into
// the 256-bit validation word (authorizer | validUntil<<160 | validAfter<<208).
func PackValidationData(authorizer common.Address, validUntil, validAfter uint64) *uint256.Int {
	d := new(uint256.Int).SetBytes(authorizer.Bytes())
	until := new(uint256.Int).Lsh(uint256.NewInt(validUntil&0xffffffffffff), 160)
	after := new(uint256.Int).Lsh(uint256.NewInt(validAfter&0xffffffffffff), 208)
	return d.Or(d, until.Or(until, after))
}

// ValidationSigFailed reports whether the authorizer segment of a validation
// word is the failure sentinel.
func ValidationSigFailed(vd *uint256.Int) bool {
	if vd == nil {
		return true
	}
	auth := new(uint256.Int).And(vd, addressMask)
	return auth.Eq(ValidationFailed)
}

var addressMask = func() *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), 160)
	return m.SubUint64(m, 1)
}()

func u256Word(v *uint256.Int) []byte {
	b := u256OrZero(v).Bytes32()
	return b[:]
}

func u256OrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
