// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Input builders for the account's wire surface. Callers that reach the
// account through the runtime assemble their calls with these.

package account

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/access"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

// InitializeAccountInput builds the initializeAccount call.
func InitializeAccountInput(owner common.Address) []byte {
	return append(types.SelInitializeAccount[:], types.PackAddress(owner)...)
}

// GrantRoleInput builds the grantRole call.
func GrantRoleInput(role access.Role, to common.Address) []byte {
	out := append([]byte{}, types.SelGrantRole[:]...)
	out = append(out, types.PackUint64(uint64(role))...)
	return append(out, types.PackAddress(to)...)
}

// RevokeRoleInput builds the revokeRole call.
func RevokeRoleInput(role access.Role, from common.Address) []byte {
	out := append([]byte{}, types.SelRevokeRole[:]...)
	out = append(out, types.PackUint64(uint64(role))...)
	return append(out, types.PackAddress(from)...)
}

// InstallModuleInput builds the installModule call.
func InstallModuleInput(typ types.ModuleType, module common.Address, initData []byte) []byte {
	return moduleInput(types.SelInstallModule, typ, module, initData)
}

// UninstallModuleInput builds the uninstallModule call.
func UninstallModuleInput(typ types.ModuleType, module common.Address, deinitData []byte) []byte {
	return moduleInput(types.SelUninstallModule, typ, module, deinitData)
}

// IsModuleInstalledInput builds the isModuleInstalled call.
func IsModuleInstalledInput(typ types.ModuleType, module common.Address, context []byte) []byte {
	return moduleInput(types.SelIsModuleInstalled, typ, module, context)
}

func moduleInput(sel types.Selector, typ types.ModuleType, module common.Address, data []byte) []byte {
	out := append([]byte{}, sel[:]...)
	out = append(out, types.PackUint64(uint64(typ))...)
	out = append(out, types.PackAddress(module)...)
	return append(out, data...)
}

// ValidateUserOpInput builds the validateUserOp call.
func ValidateUserOpInput(op *types.UserOperation, opHash common.Hash, missingFunds *big.Int) ([]byte, error) {
	encOp, err := rlp.EncodeToBytes(op)
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, types.SelValidateUserOp[:]...)
	out = append(out, opHash.Bytes()...)
	out = append(out, types.PackUint256(uint256.MustFromBig(missingBig(missingFunds)))...)
	return append(out, encOp...), nil
}

// ExecuteUserOpInput builds the executeUserOp call.
func ExecuteUserOpInput(op *types.UserOperation) ([]byte, error) {
	encOp, err := rlp.EncodeToBytes(op)
	if err != nil {
		return nil, err
	}
	return append(types.SelExecuteUserOp[:], encOp...), nil
}

// ExecuteInput builds the execute call.
func ExecuteInput(mode types.ModeCode, payload []byte) []byte {
	out := append([]byte{}, types.SelExecute[:]...)
	out = append(out, mode[:]...)
	return append(out, payload...)
}

// ExecuteFromExecutorInput builds the executeFromExecutor call.
func ExecuteFromExecutorInput(mode types.ModeCode, payload []byte) []byte {
	out := append([]byte{}, types.SelExecuteFromExecutor[:]...)
	out = append(out, mode[:]...)
	return append(out, payload...)
}

// SaveWorkflowDataInput builds the saveWorkflowData call.
func SaveWorkflowDataInput(id uint64, payload []byte) []byte {
	out := append([]byte{}, types.SelSaveWorkflowData[:]...)
	out = append(out, types.PackUint64(id)...)
	return append(out, payload...)
}

// ExecuteWorkflowInput builds the executeWorkflow call.
func ExecuteWorkflowInput(id uint64) []byte {
	return append(types.SelExecuteWorkflow[:], types.PackUint64(id)...)
}

// AuthorizeUpgradeInput builds the authorizeUpgrade call.
func AuthorizeUpgradeInput(newImplementation common.Address) []byte {
	return append(types.SelAuthorizeUpgrade[:], types.PackAddress(newImplementation)...)
}
