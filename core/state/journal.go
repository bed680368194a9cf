// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.

package state

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// journalEntry is a modification entry in the state change journal that can
// be reverted on demand.
type journalEntry interface {
	revert(*StateDB)
}

// journal contains the list of state modifications applied since the last
// commit, capable of reverting them in reverse order back to a snapshot.
type journal struct {
	entries        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

type revision struct {
	id           int
	journalIndex int
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// snapshot returns an identifier for the current revision of the journal.
func (j *journal) snapshot() int {
	id := j.nextRevisionID
	j.nextRevisionID++
	j.validRevisions = append(j.validRevisions, revision{id, len(j.entries)})
	return id
}

// revertToSnapshot reverts all state changes made since the given revision.
func (j *journal) revertToSnapshot(id int, s *StateDB) {
	idx := sort.Search(len(j.validRevisions), func(i int) bool {
		return j.validRevisions[i].id >= id
	})
	if idx == len(j.validRevisions) || j.validRevisions[idx].id != id {
		panic("revision id cannot be reverted")
	}
	snapshot := j.validRevisions[idx].journalIndex

	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:snapshot]
	j.validRevisions = j.validRevisions[:idx]
}

type (
	balanceChange struct {
		account common.Address
		prev    *big.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	createAccountChange struct {
		account common.Address
	}
	logChange struct{}

	// undoChange lets components outside the StateDB ride the same journal:
	// the closure restores whatever the component mutated.
	undoChange struct {
		undo func()
	}
)

func (ch balanceChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.balances, ch.account)
		return
	}
	s.balances[ch.account] = ch.prev
}

func (ch nonceChange) revert(s *StateDB) {
	s.nonces[ch.account] = ch.prev
}

func (ch createAccountChange) revert(s *StateDB) {
	delete(s.existent, ch.account)
	delete(s.balances, ch.account)
	delete(s.nonces, ch.account)
}

func (ch logChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
}

func (ch undoChange) revert(s *StateDB) {
	ch.undo()
}
