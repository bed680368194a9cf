// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Execution payload encoding for the smart-account entry points. Single
// executions travel packed (target ‖ value ‖ data), batches travel RLP
// encoded.

package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	ErrUnsupportedCallType = errors.New("unsupported call type")
	ErrMalformedExecution  = errors.New("malformed execution payload")
)

// CallType is the leading byte of a ModeCode distinguishing how an execution
// payload is decoded.
type CallType byte

const (
	CallTypeSingle CallType = 0x00
	CallTypeBatch  CallType = 0x01
)

// ModeCode is the 32-byte execution mode passed to the account's execute
// entry points. Only the leading call-type byte is interpreted; the rest is
// reserved.
type ModeCode [32]byte

// CallType returns the call type encoded in the leading byte.
func (m ModeCode) CallType() CallType {
	return CallType(m[0])
}

// EncodeMode builds a ModeCode for the given call type.
func EncodeMode(ct CallType) ModeCode {
	var m ModeCode
	m[0] = byte(ct)
	return m
}

// Execution describes one call to perform on behalf of an account.
type Execution struct {
	Target common.Address
	Value  *uint256.Int
	Data   []byte
}

// EncodeSingle packs one execution as target ‖ value ‖ data. The 20-byte
// target and 32-byte value are fixed width, the data is the remainder.
func EncodeSingle(e *Execution) []byte {
	out := make([]byte, 0, 52+len(e.Data))
	out = append(out, e.Target.Bytes()...)
	out = append(out, u256Word(e.Value)...)
	out = append(out, e.Data...)
	return out
}

// DecodeSingle is the inverse of EncodeSingle.
func DecodeSingle(b []byte) (*Execution, error) {
	if len(b) < 52 {
		return nil, fmt.Errorf("%w: %d bytes, want at least 52", ErrMalformedExecution, len(b))
	}
	return &Execution{
		Target: common.BytesToAddress(b[:20]),
		Value:  new(uint256.Int).SetBytes(b[20:52]),
		Data:   common.CopyBytes(b[52:]),
	}, nil
}

type executionRLP struct {
	Target common.Address
	Value  *uint256.Int
	Data   []byte
}

// EncodeBatch encodes a batch of executions as an RLP list.
func EncodeBatch(execs []*Execution) ([]byte, error) {
	enc := make([]executionRLP, len(execs))
	for i, e := range execs {
		enc[i] = executionRLP{Target: e.Target, Value: u256OrZero(e.Value), Data: e.Data}
	}
	return rlp.EncodeToBytes(enc)
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(b []byte) ([]*Execution, error) {
	var dec []executionRLP
	if err := rlp.DecodeBytes(b, &dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExecution, err)
	}
	execs := make([]*Execution, len(dec))
	for i := range dec {
		execs[i] = &Execution{Target: dec[i].Target, Value: dec[i].Value, Data: dec[i].Data}
	}
	return execs, nil
}
