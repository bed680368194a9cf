// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.

package account

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/access"
	"github.com/kot2271/Automation-Module-ERC-7579/core/modules"
	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/state"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	ErrAlreadyInitialized      = errors.New("account already initialized")
	ErrNotInitialized          = errors.New("account not initialized")
	ErrModuleAlreadyInstalled  = errors.New("module already installed")
	ErrModuleNotInstalled      = errors.New("module not installed")
	ErrInvalidExecutor         = errors.New("caller is not an installed executor module")
	ErrEmptyWorkflowData       = errors.New("empty workflow data")
	ErrExecutionFailed         = errors.New("execution failed")
	ErrWorkflowExecutionFailed = errors.New("workflow execution failed")
)

// Event topics emitted by the account.
var (
	moduleInstalledTopic   = crypto.Keccak256Hash([]byte("ModuleInstalled(uint256,address)"))
	moduleUninstalledTopic = crypto.Keccak256Hash([]byte("ModuleUninstalled(uint256,address)"))
	dataSavedTopic         = crypto.Keccak256Hash([]byte("DataSaved(uint256,bytes)"))
	workflowExecutedTopic  = crypto.Keccak256Hash([]byte("WorkflowExecuted(uint256)"))
	upgradeAuthorizedTopic = crypto.Keccak256Hash([]byte("UpgradeAuthorized(address)"))
)

// WorkflowRetention selects what happens to a stored workflow payload after
// a successful execution.
type WorkflowRetention uint8

const (
	// WorkflowRetain keeps the payload, making the workflow repeatable.
	// Anyone able to reach executeWorkflow can re-run the payload until it
	// is overwritten or the account defunds.
	WorkflowRetain WorkflowRetention = iota
	// WorkflowDeleteOnExec deletes the payload after one execution,
	// giving exactly-once semantics.
	WorkflowDeleteOnExec
)

// Config holds the account configuration fixed at construction.
type Config struct {
	// EntryPoint is the designated external trigger address.
	EntryPoint common.Address
	// Policy is the authorization scheme; nil selects RolePolicy.
	Policy access.Policy
	// Retention is the workflow retention policy; the default retains.
	Retention WorkflowRetention
}

// Account is the modular smart account.
type Account struct {
	address common.Address
	cfg     Config

	access      *access.AccessControl
	modules     *moduleRegistry
	workflows   map[uint64][]byte
	initialized bool
}

// New creates an uninitialized account at an address.
func New(address common.Address, cfg Config) *Account {
	if cfg.Policy == nil {
		cfg.Policy = access.RolePolicy{}
	}
	return &Account{
		address:   address,
		cfg:       cfg,
		access:    access.NewAccessControl(),
		modules:   newModuleRegistry(),
		workflows: make(map[uint64][]byte),
	}
}

// Address returns the account's address.
func (a *Account) Address() common.Address {
	return a.address
}

// Initialized reports whether initializeAccount has run.
func (a *Account) Initialized() bool {
	return a.initialized
}

// Owner returns the bootstrap owner.
func (a *Account) Owner() common.Address {
	return a.access.Owner()
}

// HasRole reports whether an identity holds a role on this account.
func (a *Account) HasRole(role access.Role, addr common.Address) bool {
	return a.access.HasRole(role, addr)
}

// IsModuleInstalled is a pure read of the module registry. The context
// disambiguates by selector for the fallback slot and is ignored for the
// validator and executor slots.
func (a *Account) IsModuleInstalled(typ types.ModuleType, module common.Address, context []byte) bool {
	return a.modules.isInstalled(typ, module, context)
}

// WorkflowData returns a copy of the stored payload for a workflow id.
func (a *Account) WorkflowData(id uint64) []byte {
	return common.CopyBytes(a.workflows[id])
}

// Run dispatches wire calls into the account. Unknown selectors route to
// the installed fallback handler for that selector with the original caller
// appended to the calldata.
func (a *Account) Run(ctx *runtime.CallContext, input []byte) ([]byte, error) {
	sel, args, err := types.SplitInput(input)
	if err != nil {
		return nil, err
	}
	switch sel {
	case types.SelInitializeAccount:
		owner, err := types.WordAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, a.InitializeAccount(ctx, owner)

	case types.SelGrantRole:
		role, to, err := decodeRoleArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, a.GrantRole(ctx, role, to)

	case types.SelRevokeRole:
		role, from, err := decodeRoleArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, a.RevokeRole(ctx, role, from)

	case types.SelInstallModule:
		typ, module, data, err := decodeModuleArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, a.InstallModule(ctx, typ, module, data)

	case types.SelUninstallModule:
		typ, module, data, err := decodeModuleArgs(args)
		if err != nil {
			return nil, err
		}
		return nil, a.UninstallModule(ctx, typ, module, data)

	case types.SelIsModuleInstalled:
		typ, module, context, err := decodeModuleArgs(args)
		if err != nil {
			return nil, err
		}
		if a.IsModuleInstalled(typ, module, context) {
			return types.PackUint64(1), nil
		}
		return types.PackUint64(0), nil

	case types.SelValidateUserOp:
		hashWord, err := types.Word(args, 0)
		if err != nil {
			return nil, err
		}
		missing, err := types.WordUint256(args, 1)
		if err != nil {
			return nil, err
		}
		tail, err := types.Tail(args, 2)
		if err != nil {
			return nil, err
		}
		var op types.UserOperation
		if err := rlp.DecodeBytes(tail, &op); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
		}
		vd, err := a.ValidateUserOp(ctx, &op, common.Hash(hashWord), missing.ToBig())
		if err != nil {
			return nil, err
		}
		return types.PackUint256(vd), nil

	case types.SelExecuteUserOp:
		var op types.UserOperation
		if err := rlp.DecodeBytes(args, &op); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
		}
		return a.ExecuteUserOp(ctx, &op)

	case types.SelExecute:
		mode, payload, err := decodeExecuteArgs(args)
		if err != nil {
			return nil, err
		}
		return a.Execute(ctx, mode, payload)

	case types.SelExecuteFromExecutor:
		mode, payload, err := decodeExecuteArgs(args)
		if err != nil {
			return nil, err
		}
		rets, err := a.ExecuteFromExecutor(ctx, mode, payload)
		if err != nil {
			return nil, err
		}
		return rlp.EncodeToBytes(rets)

	case types.SelSaveWorkflowData:
		id, err := types.WordUint64(args, 0)
		if err != nil {
			return nil, err
		}
		payload, err := types.Tail(args, 1)
		if err != nil {
			return nil, err
		}
		return nil, a.SaveWorkflowData(ctx, id, payload)

	case types.SelExecuteWorkflow:
		id, err := types.WordUint64(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, a.ExecuteWorkflow(ctx, id)

	case types.SelAuthorizeUpgrade:
		impl, err := types.WordAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, a.AuthorizeUpgrade(ctx, impl)

	default:
		handler, ok := a.modules.fallbackFor(sel)
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownSelector, sel.Hex())
		}
		forwarded := append(common.CopyBytes(input), types.PackAddress(ctx.Caller)...)
		return ctx.Call(handler, nil, forwarded)
	}
}

// InitializeAccount sets the bootstrap owner, grants it RoleOwner and
// grants RolePayer to the entry point. It succeeds at most once; a second
// call fails and leaves owner and roles unchanged.
func (a *Account) InitializeAccount(ctx *runtime.CallContext, owner common.Address) error {
	if a.initialized {
		return ErrAlreadyInitialized
	}
	st := ctx.State()
	a.initialized = true
	st.RecordUndo(func() {
		a.initialized = false
	})
	if err := a.access.Initialize(st, a.address, owner); err != nil {
		return err
	}
	if err := a.access.Grant(st, a.address, owner, access.RolePayer, a.cfg.EntryPoint); err != nil {
		return err
	}
	log.Info("Account initialized", "account", a.address, "owner", owner)
	return nil
}

// GrantRole gives a role to an identity; only a RoleOwner holder may grant.
func (a *Account) GrantRole(ctx *runtime.CallContext, role access.Role, to common.Address) error {
	return a.access.Grant(ctx.State(), a.address, ctx.Caller, role, to)
}

// RevokeRole removes a role from an identity; only a RoleOwner holder may
// revoke, and the bootstrap owner's RoleOwner grant is irrevocable.
func (a *Account) RevokeRole(ctx *runtime.CallContext, role access.Role, from common.Address) error {
	return a.access.Revoke(ctx.State(), ctx.Caller, role, from)
}

// InstallModule installs a module into a capability slot. The module must
// self-report the slot's capability, the slot bookkeeping must accept it,
// and the module's own install hook must succeed; only then is
// ModuleInstalled emitted. Any failure reverts all of it.
func (a *Account) InstallModule(ctx *runtime.CallContext, typ types.ModuleType, module common.Address, initData []byte) error {
	if err := a.cfg.Policy.AuthorizeModuleChange(a.access, a.address, a.cfg.EntryPoint, ctx.Caller); err != nil {
		return err
	}
	mod, ok := ctx.ContractAt(module).(modules.Module)
	if !ok || !mod.IsModuleType(typ) {
		return fmt.Errorf("%w: %s does not report type %s", types.ErrMismatchModuleType, module, typ)
	}

	st := ctx.State()
	hookData := initData
	switch typ {
	case types.ModuleTypeValidator:
		if err := a.modules.installValidator(st, module); err != nil {
			return err
		}
	case types.ModuleTypeExecutor:
		if err := a.modules.installExecutor(st, module); err != nil {
			return err
		}
	case types.ModuleTypeFallback:
		sel, rest, err := types.SplitInput(initData)
		if err != nil {
			return fmt.Errorf("%w: fallback init data needs a selector", types.ErrMalformedInput)
		}
		if err := a.modules.installFallback(st, sel, module); err != nil {
			return err
		}
		hookData = rest
	default:
		return fmt.Errorf("%w: %d", types.ErrUnsupportedModuleType, typ)
	}

	if _, err := ctx.Call(module, nil, append(types.SelOnInstall[:], hookData...)); err != nil {
		return fmt.Errorf("module install hook: %w", err)
	}

	a.emitModuleEvent(st, moduleInstalledTopic, typ, module)
	log.Info("Module installed", "account", a.address, "type", typ, "module", module)
	return nil
}

// UninstallModule removes a module from a capability slot, mirroring
// InstallModule. If the module's own deinit hook fails, the registry state
// is left untouched.
func (a *Account) UninstallModule(ctx *runtime.CallContext, typ types.ModuleType, module common.Address, deinitData []byte) error {
	if err := a.cfg.Policy.AuthorizeModuleChange(a.access, a.address, a.cfg.EntryPoint, ctx.Caller); err != nil {
		return err
	}

	st := ctx.State()
	hookData := deinitData
	switch typ {
	case types.ModuleTypeValidator:
		if err := a.modules.uninstallValidator(st, module); err != nil {
			return err
		}
	case types.ModuleTypeExecutor:
		if err := a.modules.uninstallExecutor(st, module); err != nil {
			return err
		}
	case types.ModuleTypeFallback:
		sel, rest, err := types.SplitInput(deinitData)
		if err != nil {
			return fmt.Errorf("%w: fallback deinit data needs a selector", types.ErrMalformedInput)
		}
		if err := a.modules.uninstallFallback(st, sel, module); err != nil {
			return err
		}
		hookData = rest
	default:
		return fmt.Errorf("%w: %d", types.ErrUnsupportedModuleType, typ)
	}

	if _, err := ctx.Call(module, nil, append(types.SelOnUninstall[:], hookData...)); err != nil {
		return fmt.Errorf("module uninstall hook: %w", err)
	}

	a.emitModuleEvent(st, moduleUninstalledTopic, typ, module)
	log.Info("Module uninstalled", "account", a.address, "type", typ, "module", module)
	return nil
}

// ValidateUserOp validates an externally-submitted operation. The owed
// prefund is paid to the entry point unconditionally once this call is
// reached. A validator that is not installed yields the failed sentinel
// rather than an error, so the surrounding bundling infrastructure can
// exclude the operation without aborting a batch.
func (a *Account) ValidateUserOp(ctx *runtime.CallContext, op *types.UserOperation, opHash common.Hash, missingFunds *big.Int) (*uint256.Int, error) {
	if err := a.cfg.Policy.AuthorizeTrigger(a.access, a.address, a.cfg.EntryPoint, ctx.Caller); err != nil {
		return nil, err
	}

	if missingFunds != nil && missingFunds.Sign() > 0 {
		if _, err := ctx.Call(a.cfg.EntryPoint, missingFunds, nil); err != nil {
			return nil, fmt.Errorf("prefund payment: %w", err)
		}
	}

	validator := types.ValidatorFromNonce(op.Nonce)
	if !a.modules.hasValidator(validator) {
		log.Debug("Validator not installed, soft-failing validation", "account", a.address, "validator", validator)
		return types.ValidationFailed, nil
	}

	encOp, err := rlp.EncodeToBytes(op)
	if err != nil {
		return nil, err
	}
	input := make([]byte, 0, 4+64+len(encOp))
	input = append(input, types.SelValidateUserOp[:]...)
	input = append(input, opHash.Bytes()...)
	input = append(input, types.PackUint256(uint256.MustFromBig(missingBig(missingFunds)))...)
	input = append(input, encOp...)

	ret, err := ctx.Call(validator, nil, input)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}
	return new(uint256.Int).SetBytes(ret), nil
}

// Execute runs one call or a batch of calls on behalf of the account. Only
// the entry point or the account itself may call it.
func (a *Account) Execute(ctx *runtime.CallContext, mode types.ModeCode, payload []byte) ([]byte, error) {
	if err := access.OnlyEntryPointOrSelf(a.cfg.EntryPoint, a.address, ctx.Caller); err != nil {
		return nil, err
	}
	rets, err := a.runExecutions(ctx, mode, payload)
	if err != nil {
		return nil, err
	}
	if mode.CallType() == types.CallTypeSingle {
		return rets[0], nil
	}
	return rlp.EncodeToBytes(rets)
}

// ExecuteFromExecutor runs calls on behalf of the account for an installed
// executor module, collecting one return value per executed entry.
func (a *Account) ExecuteFromExecutor(ctx *runtime.CallContext, mode types.ModeCode, payload []byte) ([][]byte, error) {
	if !a.modules.hasExecutor(ctx.Caller) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExecutor, ctx.Caller)
	}
	return a.runExecutions(ctx, mode, payload)
}

// runExecutions decodes the call mode and performs the described calls with
// the account's own identity.
func (a *Account) runExecutions(ctx *runtime.CallContext, mode types.ModeCode, payload []byte) ([][]byte, error) {
	switch mode.CallType() {
	case types.CallTypeSingle:
		e, err := types.DecodeSingle(payload)
		if err != nil {
			return nil, err
		}
		ret, err := ctx.Call(e.Target, e.Value.ToBig(), e.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}
		return [][]byte{ret}, nil

	case types.CallTypeBatch:
		execs, err := types.DecodeBatch(payload)
		if err != nil {
			return nil, err
		}
		rets := make([][]byte, 0, len(execs))
		for i, e := range execs {
			ret, err := ctx.Call(e.Target, e.Value.ToBig(), e.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: batch entry %d: %v", ErrExecutionFailed, i, err)
			}
			rets = append(rets, ret)
		}
		return rets, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", types.ErrUnsupportedCallType, byte(mode.CallType()))
	}
}

// ExecuteUserOp strips the 4-byte selector prefix from the operation's call
// payload and re-enters the account's own dispatch with the remainder under
// the account's own identity.
func (a *Account) ExecuteUserOp(ctx *runtime.CallContext, op *types.UserOperation) ([]byte, error) {
	if err := a.cfg.Policy.AuthorizeTrigger(a.access, a.address, a.cfg.EntryPoint, ctx.Caller); err != nil {
		return nil, err
	}
	if len(op.CallData) < 4 {
		return nil, fmt.Errorf("%w: call data shorter than selector", ErrExecutionFailed)
	}
	ret, err := ctx.Call(a.address, nil, op.CallData[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return ret, nil
}

// SaveWorkflowData stores an automation payload under a caller-chosen id,
// overwriting any previous payload. An empty payload means "absent" and is
// rejected.
func (a *Account) SaveWorkflowData(ctx *runtime.CallContext, id uint64, payload []byte) error {
	if err := a.cfg.Policy.AuthorizeWorkflowSave(a.access, a.address, a.cfg.EntryPoint, ctx.Caller); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: id %d", ErrEmptyWorkflowData, id)
	}

	st := ctx.State()
	prev, existed := a.workflows[id]
	a.workflows[id] = common.CopyBytes(payload)
	st.RecordUndo(func() {
		if existed {
			a.workflows[id] = prev
		} else {
			delete(a.workflows, id)
		}
	})
	st.AddLog(&gethtypes.Log{
		Address: a.address,
		Topics:  []common.Hash{dataSavedTopic, idTopic(id)},
		Data:    common.CopyBytes(payload),
	})
	log.Debug("Workflow data saved", "account", a.address, "id", id, "len", len(payload))
	return nil
}

// ExecuteWorkflow runs the stored payload for a workflow id with the
// account's own authority. Only an installed executor module or the account
// itself may trigger it. Execution is total: a failed payload leaves no
// partial effects behind.
func (a *Account) ExecuteWorkflow(ctx *runtime.CallContext, id uint64) error {
	if ctx.Caller != a.address && !a.modules.hasExecutor(ctx.Caller) {
		return fmt.Errorf("%w: %s", ErrInvalidExecutor, ctx.Caller)
	}
	payload, ok := a.workflows[id]
	if !ok || len(payload) == 0 {
		return fmt.Errorf("%w: id %d", ErrEmptyWorkflowData, id)
	}

	e, err := types.DecodeSingle(payload)
	if err != nil {
		return fmt.Errorf("%w: id %d: %v", ErrWorkflowExecutionFailed, id, err)
	}
	if _, err := ctx.Call(e.Target, e.Value.ToBig(), e.Data); err != nil {
		return fmt.Errorf("%w: id %d: %v", ErrWorkflowExecutionFailed, id, err)
	}

	st := ctx.State()
	if a.cfg.Retention == WorkflowDeleteOnExec {
		delete(a.workflows, id)
		st.RecordUndo(func() {
			a.workflows[id] = payload
		})
	}
	st.AddLog(&gethtypes.Log{
		Address: a.address,
		Topics:  []common.Hash{workflowExecutedTopic, idTopic(id)},
	})
	log.Info("Workflow executed", "account", a.address, "id", id)
	return nil
}

// AuthorizeUpgrade is the single authorization gate guarding upgrades; the
// proxy mechanics themselves live outside this core.
func (a *Account) AuthorizeUpgrade(ctx *runtime.CallContext, newImplementation common.Address) error {
	if err := access.OnlyRole(a.access, access.RoleOwner, ctx.Caller); err != nil {
		return err
	}
	ctx.State().AddLog(&gethtypes.Log{
		Address: a.address,
		Topics:  []common.Hash{upgradeAuthorizedTopic, common.BytesToHash(newImplementation.Bytes())},
	})
	log.Info("Upgrade authorized", "account", a.address, "implementation", newImplementation)
	return nil
}

func (a *Account) emitModuleEvent(st *state.StateDB, topic common.Hash, typ types.ModuleType, module common.Address) {
	st.AddLog(&gethtypes.Log{
		Address: a.address,
		Topics:  []common.Hash{topic, idTopic(uint64(typ)), common.BytesToHash(module.Bytes())},
	})
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

func missingBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func decodeRoleArgs(args []byte) (access.Role, common.Address, error) {
	roleWord, err := types.WordUint64(args, 0)
	if err != nil {
		return 0, common.Address{}, err
	}
	addr, err := types.WordAddress(args, 1)
	if err != nil {
		return 0, common.Address{}, err
	}
	return access.Role(roleWord), addr, nil
}

func decodeModuleArgs(args []byte) (types.ModuleType, common.Address, []byte, error) {
	typ, err := types.WordUint64(args, 0)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	module, err := types.WordAddress(args, 1)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	data, err := types.Tail(args, 2)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	return types.ModuleType(typ), module, data, nil
}

func decodeExecuteArgs(args []byte) (types.ModeCode, []byte, error) {
	modeWord, err := types.Word(args, 0)
	if err != nil {
		return types.ModeCode{}, nil, err
	}
	payload, err := types.Tail(args, 1)
	if err != nil {
		return types.ModeCode{}, nil, err
	}
	return types.ModeCode(modeWord), payload, nil
}
