// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Package modules defines the surface any installable module exposes to an
// account, plus the concrete modules shipped with the core: the automation
// executor and an ECDSA owner validator.

package modules

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

// Module is the capability probe every installable module exposes. The
// lifecycle hooks (onInstall/onUninstall) and the capability-specific entry
// points travel as wire calls through the module's Run method, so the module
// always sees the authentic installing account as caller.
type Module interface {
	runtime.Contract

	// IsModuleType reports whether the module self-reports membership in
	// the given capability slot.
	IsModuleType(typ types.ModuleType) bool
	Name() string
	Version() string
}

// Validator is the contract of a validator-slot module.
type Validator interface {
	Module

	// ValidateUserOp returns the packed validation word; signature failure
	// is the failed sentinel, not an error.
	ValidateUserOp(account common.Address, op *types.UserOperation, opHash common.Hash) (*uint256.Int, error)
	// IsValidSignatureWithSender returns the ERC-1271 magic value on a
	// valid signature.
	IsValidSignatureWithSender(account, sender common.Address, hash common.Hash, sig []byte) ([4]byte, error)
}
