// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.

package types

import "errors"

var (
	ErrUnsupportedModuleType = errors.New("unsupported module type")
	ErrMismatchModuleType    = errors.New("module type mismatch")
)

// ModuleType identifies the capability slot a module is installed into.
// The enumeration is closed: every dispatch over it is exhaustive and an
// unknown value rejects with ErrUnsupportedModuleType.
type ModuleType uint64

const (
	ModuleTypeValidator ModuleType = 1
	ModuleTypeExecutor  ModuleType = 2
	ModuleTypeFallback  ModuleType = 3
)

func (t ModuleType) String() string {
	switch t {
	case ModuleTypeValidator:
		return "validator"
	case ModuleTypeExecutor:
		return "executor"
	case ModuleTypeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}
