// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// The two authorization schemes observed in modular accounts — role-based
// gates and entry-point-address gates — are interchangeable strategies
// behind one Policy interface. An account holds exactly one policy; the
// schemes are never mixed within one account.

package access

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Policy decides which callers may pass the account's sensitive gates.
type Policy interface {
	// AuthorizeModuleChange gates installModule/uninstallModule.
	AuthorizeModuleChange(ac *AccessControl, self, entryPoint, caller common.Address) error
	// AuthorizeWorkflowSave gates saveWorkflowData.
	AuthorizeWorkflowSave(ac *AccessControl, self, entryPoint, caller common.Address) error
	// AuthorizeTrigger gates validateUserOp/executeUserOp, the entry points
	// reserved for the designated external trigger.
	AuthorizeTrigger(ac *AccessControl, self, entryPoint, caller common.Address) error
}

// RolePolicy is the role-centric scheme: module lifecycle is reserved for
// RoleModuleInstaller (or RoleOwner) holders, workflow saves for RoleOwner
// holders or the account itself, and the trigger is recognized by its
// RolePayer grant.
type RolePolicy struct{}

func (RolePolicy) AuthorizeModuleChange(ac *AccessControl, self, entryPoint, caller common.Address) error {
	if ac.HasRole(RoleOwner, caller) {
		return nil
	}
	return OnlyRole(ac, RoleModuleInstaller, caller)
}

func (RolePolicy) AuthorizeWorkflowSave(ac *AccessControl, self, entryPoint, caller common.Address) error {
	if caller == self {
		return nil
	}
	return OnlyRole(ac, RoleOwner, caller)
}

func (RolePolicy) AuthorizeTrigger(ac *AccessControl, self, entryPoint, caller common.Address) error {
	return OnlyRole(ac, RolePayer, caller)
}

// EntryPointPolicy is the entry-point-centric scheme: every sensitive gate
// admits only the designated entry point address or the account itself.
type EntryPointPolicy struct{}

func (EntryPointPolicy) AuthorizeModuleChange(ac *AccessControl, self, entryPoint, caller common.Address) error {
	return OnlyEntryPointOrSelf(entryPoint, self, caller)
}

func (EntryPointPolicy) AuthorizeWorkflowSave(ac *AccessControl, self, entryPoint, caller common.Address) error {
	return OnlyEntryPointOrSelf(entryPoint, self, caller)
}

func (EntryPointPolicy) AuthorizeTrigger(ac *AccessControl, self, entryPoint, caller common.Address) error {
	if caller != entryPoint {
		return fmt.Errorf("%w: caller %s is not the entry point", ErrUnauthorized, caller)
	}
	return nil
}
