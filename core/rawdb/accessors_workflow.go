// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Database accessors for workflow registry bindings. Handles storage and
// retrieval of workflow-id to owning-account registrations.

package rawdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// workflowPrefix is the prefix for workflow registration storage.
// workflowPrefix + big-endian workflow id -> RLP(registration record)
var workflowPrefix = []byte("dep-wf-")

// workflowKey returns the database key for a workflow registration.
func workflowKey(id uint64) []byte {
	key := make([]byte, 0, len(workflowPrefix)+8)
	key = append(key, workflowPrefix...)
	key = append(key,
		byte(id>>56), byte(id>>48), byte(id>>40), byte(id>>32),
		byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	return key
}

// workflowRegistration is the persisted registration record.
type workflowRegistration struct {
	Account common.Address
	ID      uint64
}

// HasWorkflowRegistration checks if a workflow id is registered.
func HasWorkflowRegistration(db ethdb.KeyValueReader, id uint64) bool {
	has, _ := db.Has(workflowKey(id))
	return has
}

// WriteWorkflowRegistration writes a workflow registration.
func WriteWorkflowRegistration(db ethdb.KeyValueWriter, id uint64, account common.Address) {
	data, err := rlp.EncodeToBytes(&workflowRegistration{Account: account, ID: id})
	if err != nil {
		panic("failed to encode workflow registration: " + err.Error())
	}
	if err := db.Put(workflowKey(id), data); err != nil {
		panic("failed to write workflow registration: " + err.Error())
	}
}

// ReadWorkflowRegistration reads the owning account for a workflow id.
func ReadWorkflowRegistration(db ethdb.KeyValueReader, id uint64) (common.Address, bool) {
	data, err := db.Get(workflowKey(id))
	if err != nil || len(data) == 0 {
		return common.Address{}, false
	}
	var reg workflowRegistration
	if err := rlp.DecodeBytes(data, &reg); err != nil {
		log.Error("Invalid workflow registration record", "id", id, "err", err)
		return common.Address{}, false
	}
	return reg.Account, true
}

// DeleteWorkflowRegistration removes a workflow registration.
func DeleteWorkflowRegistration(db ethdb.KeyValueWriter, id uint64) {
	if err := db.Delete(workflowKey(id)); err != nil {
		panic("failed to delete workflow registration: " + err.Error())
	}
}

// IterateWorkflowRegistrations iterates all persisted registrations.
func IterateWorkflowRegistrations(db ethdb.Iteratee, fn func(id uint64, account common.Address) bool) {
	it := db.NewIterator(workflowPrefix, nil)
	defer it.Release()

	for it.Next() {
		var reg workflowRegistration
		if err := rlp.DecodeBytes(it.Value(), &reg); err != nil {
			continue
		}
		if !fn(reg.ID, reg.Account) {
			break
		}
	}
}
