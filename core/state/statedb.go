// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// In-memory journaled world state for the smart-account core. Balances,
// nonces and event logs live here; components with their own maps (roles,
// module slots, workflows, registrations) register undo closures on the
// same journal so a revert restores everything at once.

package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// StateDB holds the mutable world state shared by all components of one
// execution environment.
type StateDB struct {
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	existent map[common.Address]struct{}
	logs     []*types.Log

	journal *journal
}

// New creates an empty state database.
func New() *StateDB {
	return &StateDB{
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		existent: make(map[common.Address]struct{}),
		journal:  newJournal(),
	}
}

// CreateAccount marks an address as existent without touching its balance.
func (s *StateDB) CreateAccount(addr common.Address) {
	if _, ok := s.existent[addr]; ok {
		return
	}
	s.existent[addr] = struct{}{}
	s.journal.append(createAccountChange{account: addr})
}

// Exist reports whether an address has been touched.
func (s *StateDB) Exist(addr common.Address) bool {
	_, ok := s.existent[addr]
	return ok
}

// GetBalance returns a copy of the balance of an address.
func (s *StateDB) GetBalance(addr common.Address) *big.Int {
	if b, ok := s.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AddBalance adds amount to the balance of an address.
func (s *StateDB) AddBalance(addr common.Address, amount *big.Int) {
	s.CreateAccount(addr)
	prev := s.balances[addr]
	s.journal.append(balanceChange{account: addr, prev: prev})
	s.balances[addr] = new(big.Int).Add(zeroIfNil(prev), amount)
}

// SubBalance subtracts amount from the balance of an address.
func (s *StateDB) SubBalance(addr common.Address, amount *big.Int) {
	s.CreateAccount(addr)
	prev := s.balances[addr]
	s.journal.append(balanceChange{account: addr, prev: prev})
	s.balances[addr] = new(big.Int).Sub(zeroIfNil(prev), amount)
}

// GetNonce returns the nonce of an address.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	return s.nonces[addr]
}

// SetNonce sets the nonce of an address.
func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	s.CreateAccount(addr)
	s.journal.append(nonceChange{account: addr, prev: s.nonces[addr]})
	s.nonces[addr] = nonce
}

// AddLog appends an event record to the state. Logs revert with the journal
// like every other mutation, so a failed invocation leaves no events behind.
func (s *StateDB) AddLog(log *types.Log) {
	s.journal.append(logChange{})
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
}

// Logs returns the event records accumulated so far.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// RecordUndo registers an undo closure on the journal. Components keeping
// state in their own maps call this on every mutation so that
// RevertToSnapshot restores them together with balances and logs.
func (s *StateDB) RecordUndo(undo func()) {
	s.journal.append(undoChange{undo: undo})
}

// Snapshot returns an identifier for the current state revision.
func (s *StateDB) Snapshot() int {
	return s.journal.snapshot()
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (s *StateDB) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
