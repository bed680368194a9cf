// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Package access defines the authorization vocabulary of the smart account:
// roles, grants, the two entry-point-gating predicates and the pluggable
// authorization policy. Pure policy, no storage beyond the role grants.

package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadyInitialized = errors.New("access control already initialized")
	ErrRoleAlreadyGranted = errors.New("role already granted")
	ErrRoleNotGranted     = errors.New("role not granted")
	ErrOwnerRoleImmutable = errors.New("bootstrap owner role cannot be revoked")
)

// Role is a capability tag. The enumeration is closed; roles are data, not
// singletons.
type Role uint8

const (
	RoleOwner Role = iota
	RoleModuleInstaller
	RolePayer
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleModuleInstaller:
		return "module-installer"
	case RolePayer:
		return "payer"
	default:
		return "unknown"
	}
}

var roleGrantedTopic = crypto.Keccak256Hash([]byte("RoleGrantedSuccessfully(address,uint8)"))

// AccessControl tracks role grants for one account. The bootstrap owner is
// set exactly once at initialization and its owner role is irrevocable.
type AccessControl struct {
	owner       common.Address
	grants      map[Role]map[common.Address]struct{}
	initialized bool
}

// NewAccessControl creates an empty, uninitialized access control.
func NewAccessControl() *AccessControl {
	return &AccessControl{
		grants: make(map[Role]map[common.Address]struct{}),
	}
}

// Initialize records the bootstrap owner and grants it RoleOwner. A second
// call fails and leaves the grants unchanged.
func (ac *AccessControl) Initialize(st *state.StateDB, self, owner common.Address) error {
	if ac.initialized {
		return ErrAlreadyInitialized
	}
	ac.initialized = true
	ac.owner = owner
	st.RecordUndo(func() {
		ac.initialized = false
		ac.owner = common.Address{}
	})
	ac.grant(st, self, RoleOwner, owner)
	return nil
}

// Owner returns the bootstrap owner.
func (ac *AccessControl) Owner() common.Address {
	return ac.owner
}

// Initialized reports whether Initialize has run.
func (ac *AccessControl) Initialized() bool {
	return ac.initialized
}

// HasRole reports whether an identity holds a role.
func (ac *AccessControl) HasRole(role Role, addr common.Address) bool {
	_, ok := ac.grants[role][addr]
	return ok
}

// Grant gives a role to an identity. Only a RoleOwner holder may grant;
// re-granting an already held role fails.
func (ac *AccessControl) Grant(st *state.StateDB, self, caller common.Address, role Role, to common.Address) error {
	if err := OnlyRole(ac, RoleOwner, caller); err != nil {
		return err
	}
	if ac.HasRole(role, to) {
		return fmt.Errorf("%w: %s to %s", ErrRoleAlreadyGranted, role, to)
	}
	ac.grant(st, self, role, to)
	return nil
}

// Revoke removes a role from an identity. Only a RoleOwner holder may
// revoke; the bootstrap owner's RoleOwner grant is irrevocable.
func (ac *AccessControl) Revoke(st *state.StateDB, caller common.Address, role Role, from common.Address) error {
	if err := OnlyRole(ac, RoleOwner, caller); err != nil {
		return err
	}
	if role == RoleOwner && from == ac.owner {
		return ErrOwnerRoleImmutable
	}
	if !ac.HasRole(role, from) {
		return fmt.Errorf("%w: %s from %s", ErrRoleNotGranted, role, from)
	}
	delete(ac.grants[role], from)
	st.RecordUndo(func() {
		ac.grants[role][from] = struct{}{}
	})
	return nil
}

// grant performs the journaled grant and emits the role event. Callers have
// already authorized the mutation.
func (ac *AccessControl) grant(st *state.StateDB, self common.Address, role Role, to common.Address) {
	if ac.grants[role] == nil {
		ac.grants[role] = make(map[common.Address]struct{})
	}
	ac.grants[role][to] = struct{}{}
	st.RecordUndo(func() {
		delete(ac.grants[role], to)
	})
	st.AddLog(&gethtypes.Log{
		Address: self,
		Topics:  []common.Hash{roleGrantedTopic, common.BytesToHash(to.Bytes())},
		Data:    []byte{byte(role)},
	})
	log.Debug("Role granted", "account", self, "role", role, "to", to)
}

// OnlyRole is the role-gating predicate: the caller must hold the named
// role. It fails with a distinct unauthorized error, never a silent no-op.
func OnlyRole(ac *AccessControl, role Role, caller common.Address) error {
	if !ac.HasRole(role, caller) {
		return fmt.Errorf("%w: caller %s lacks role %s", ErrUnauthorized, caller, role)
	}
	return nil
}

// OnlyEntryPointOrSelf is the identity-gating predicate: the caller must be
// the designated external trigger or the account itself.
func OnlyEntryPointOrSelf(entryPoint, self, caller common.Address) error {
	if caller != entryPoint && caller != self {
		return fmt.Errorf("%w: caller %s is neither entry point nor self", ErrUnauthorized, caller)
	}
	return nil
}
