// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// Per-account module bookkeeping: which module is installed in which
// capability slot. Validator and executor slots hold insertion-ordered
// sets; the fallback slot holds one handler per selector, which is why
// isModuleInstalled takes a disambiguating context for fallback only.

package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

type moduleRegistry struct {
	validators []common.Address
	executors  []common.Address
	fallbacks  map[types.Selector]common.Address
}

func newModuleRegistry() *moduleRegistry {
	return &moduleRegistry{
		fallbacks: make(map[types.Selector]common.Address),
	}
}

func (r *moduleRegistry) installValidator(st *state.StateDB, module common.Address) error {
	if contains(r.validators, module) {
		return fmt.Errorf("%w: validator %s", ErrModuleAlreadyInstalled, module)
	}
	r.validators = append(r.validators, module)
	st.RecordUndo(func() {
		r.validators = r.validators[:len(r.validators)-1]
	})
	return nil
}

func (r *moduleRegistry) installExecutor(st *state.StateDB, module common.Address) error {
	if contains(r.executors, module) {
		return fmt.Errorf("%w: executor %s", ErrModuleAlreadyInstalled, module)
	}
	r.executors = append(r.executors, module)
	st.RecordUndo(func() {
		r.executors = r.executors[:len(r.executors)-1]
	})
	return nil
}

func (r *moduleRegistry) installFallback(st *state.StateDB, sel types.Selector, module common.Address) error {
	if occupant, ok := r.fallbacks[sel]; ok {
		return fmt.Errorf("%w: selector %s held by %s", ErrModuleAlreadyInstalled, sel.Hex(), occupant)
	}
	r.fallbacks[sel] = module
	st.RecordUndo(func() {
		delete(r.fallbacks, sel)
	})
	return nil
}

func (r *moduleRegistry) uninstallValidator(st *state.StateDB, module common.Address) error {
	idx := indexOf(r.validators, module)
	if idx < 0 {
		return fmt.Errorf("%w: validator %s", ErrModuleNotInstalled, module)
	}
	r.validators = append(r.validators[:idx], r.validators[idx+1:]...)
	st.RecordUndo(func() {
		r.validators = append(r.validators[:idx], append([]common.Address{module}, r.validators[idx:]...)...)
	})
	return nil
}

func (r *moduleRegistry) uninstallExecutor(st *state.StateDB, module common.Address) error {
	idx := indexOf(r.executors, module)
	if idx < 0 {
		return fmt.Errorf("%w: executor %s", ErrModuleNotInstalled, module)
	}
	r.executors = append(r.executors[:idx], r.executors[idx+1:]...)
	st.RecordUndo(func() {
		r.executors = append(r.executors[:idx], append([]common.Address{module}, r.executors[idx:]...)...)
	})
	return nil
}

func (r *moduleRegistry) uninstallFallback(st *state.StateDB, sel types.Selector, module common.Address) error {
	occupant, ok := r.fallbacks[sel]
	if !ok || occupant != module {
		return fmt.Errorf("%w: selector %s for %s", ErrModuleNotInstalled, sel.Hex(), module)
	}
	delete(r.fallbacks, sel)
	st.RecordUndo(func() {
		r.fallbacks[sel] = module
	})
	return nil
}

func (r *moduleRegistry) hasValidator(module common.Address) bool {
	return contains(r.validators, module)
}

func (r *moduleRegistry) hasExecutor(module common.Address) bool {
	return contains(r.executors, module)
}

func (r *moduleRegistry) fallbackFor(sel types.Selector) (common.Address, bool) {
	module, ok := r.fallbacks[sel]
	return module, ok
}

// isInstalled is the pure read behind isModuleInstalled. For the fallback
// slot the context carries the selector being asked about; for the other
// slots the context is ignored.
func (r *moduleRegistry) isInstalled(typ types.ModuleType, module common.Address, context []byte) bool {
	switch typ {
	case types.ModuleTypeValidator:
		return r.hasValidator(module)
	case types.ModuleTypeExecutor:
		return r.hasExecutor(module)
	case types.ModuleTypeFallback:
		if len(context) < 4 {
			return false
		}
		var sel types.Selector
		copy(sel[:], context[:4])
		occupant, ok := r.fallbacks[sel]
		return ok && occupant == module
	default:
		return false
	}
}

func contains(set []common.Address, addr common.Address) bool {
	return indexOf(set, addr) >= 0
}

func indexOf(set []common.Address, addr common.Address) int {
	for i, a := range set {
		if a == addr {
			return i
		}
	}
	return -1
}
