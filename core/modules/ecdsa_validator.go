// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.
//
// ECDSA owner validator: a validator-slot module that admits operations
// signed by the per-account owner key recorded at install time.

package modules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/kot2271/Automation-Module-ERC-7579/core/runtime"
	"github.com/kot2271/Automation-Module-ERC-7579/core/types"
)

var (
	ErrNoOwnerForAccount = errors.New("no owner recorded for account")
	ErrBadInstallData    = errors.New("install data must be a 20-byte owner address")
)

// ERC1271Magic is returned by isValidSignatureWithSender on a valid
// signature; ERC1271Reject on anything else.
var (
	ERC1271Magic  = [4]byte{0x16, 0x26, 0xba, 0x7e}
	ERC1271Reject = [4]byte{0xff, 0xff, 0xff, 0xff}
)

// inmemorySigners is the number of recovered signers to keep cached.
const inmemorySigners = 4096

// ECDSAValidator recovers the signer of an operation hash and compares it
// against the owner the installing account recorded. Signature mismatch is
// a soft outcome: the failed sentinel, not an error.
type ECDSAValidator struct {
	address common.Address

	mu     sync.RWMutex
	owners map[common.Address]common.Address // account -> owner

	signers *lru.Cache[common.Hash, common.Address] // recovered signer cache
}

// NewECDSAValidator creates the validator module at an address.
func NewECDSAValidator(address common.Address) *ECDSAValidator {
	return &ECDSAValidator{
		address: address,
		owners:  make(map[common.Address]common.Address),
		signers: lru.NewCache[common.Hash, common.Address](inmemorySigners),
	}
}

// Address returns the module's address.
func (v *ECDSAValidator) Address() common.Address {
	return v.address
}

// IsModuleType reports the validator capability only.
func (v *ECDSAValidator) IsModuleType(typ types.ModuleType) bool {
	return typ == types.ModuleTypeValidator
}

func (v *ECDSAValidator) Name() string    { return "ecdsa-validator" }
func (v *ECDSAValidator) Version() string { return "1.0.0" }

// OwnerOf returns the owner recorded for an account.
func (v *ECDSAValidator) OwnerOf(account common.Address) (common.Address, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	owner, ok := v.owners[account]
	return owner, ok
}

// Run dispatches wire calls into the module.
func (v *ECDSAValidator) Run(ctx *runtime.CallContext, input []byte) ([]byte, error) {
	sel, args, err := types.SplitInput(input)
	if err != nil {
		return nil, err
	}
	switch sel {
	case types.SelOnInstall:
		return nil, v.OnInstall(ctx, args)
	case types.SelOnUninstall:
		return nil, v.OnUninstall(ctx, args)
	case types.SelValidateUserOp:
		hashWord, err := types.Word(args, 0)
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
		vd, err := v.ValidateUserOp(ctx.Caller, &op, common.Hash(hashWord))
		if err != nil {
			return nil, err
		}
		return types.PackUint256(vd), nil
	case types.SelIsValidSignatureWithSender:
		sender, err := types.WordAddress(args, 0)
		if err != nil {
			return nil, err
		}
		hashWord, err := types.Word(args, 1)
		if err != nil {
			return nil, err
		}
		sig, err := types.Tail(args, 2)
		if err != nil {
			return nil, err
		}
		magic, err := v.IsValidSignatureWithSender(ctx.Caller, sender, common.Hash(hashWord), sig)
		if err != nil {
			return nil, err
		}
		return magic[:], nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSelector, sel.Hex())
	}
}

// OnInstall records the owner address carried in the install data for the
// calling account.
func (v *ECDSAValidator) OnInstall(ctx *runtime.CallContext, data []byte) error {
	if len(data) != common.AddressLength {
		return fmt.Errorf("%w: got %d bytes", ErrBadInstallData, len(data))
	}
	account := ctx.Caller
	owner := common.BytesToAddress(data)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.owners[account]; ok {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInitialized, account)
	}
	v.owners[account] = owner
	ctx.State().RecordUndo(func() {
		v.mu.Lock()
		delete(v.owners, account)
		v.mu.Unlock()
	})
	log.Debug("ECDSA validator installed", "account", account, "owner", owner)
	return nil
}

// OnUninstall clears the calling account's owner. The data must echo the
// owner address recorded at install time.
func (v *ECDSAValidator) OnUninstall(ctx *runtime.CallContext, data []byte) error {
	account := ctx.Caller

	v.mu.Lock()
	defer v.mu.Unlock()
	owner, ok := v.owners[account]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotInitialized, account)
	}
	if common.BytesToAddress(data) != owner {
		return fmt.Errorf("%w: account %s", ErrInstallDataMismatch, account)
	}
	delete(v.owners, account)
	ctx.State().RecordUndo(func() {
		v.mu.Lock()
		v.owners[account] = owner
		v.mu.Unlock()
	})
	return nil
}

// ValidateUserOp recovers the signer of the operation hash from the 65-byte
// signature and compares it against the account's recorded owner.
func (v *ECDSAValidator) ValidateUserOp(account common.Address, op *types.UserOperation, opHash common.Hash) (*uint256.Int, error) {
	owner, ok := v.OwnerOf(account)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoOwnerForAccount, account)
	}
	signer, err := v.recoverSigner(opHash, op.Signature)
	if err != nil {
		log.Debug("Signature recovery failed", "account", account, "err", err)
		return types.ValidationFailed, nil
	}
	if signer != owner {
		log.Debug("Signer mismatch", "account", account, "owner", owner, "signer", signer)
		return types.ValidationFailed, nil
	}
	return types.ValidationSucceeded, nil
}

// IsValidSignatureWithSender implements the ERC-1271 style check over an
// arbitrary hash.
func (v *ECDSAValidator) IsValidSignatureWithSender(account, sender common.Address, hash common.Hash, sig []byte) ([4]byte, error) {
	owner, ok := v.OwnerOf(account)
	if !ok {
		return ERC1271Reject, fmt.Errorf("%w: %s", ErrNoOwnerForAccount, account)
	}
	signer, err := v.recoverSigner(hash, sig)
	if err != nil || signer != owner {
		return ERC1271Reject, nil
	}
	return ERC1271Magic, nil
}

// recoverSigner recovers the address that signed hash, memoizing results
// keyed by hash and signature.
func (v *ECDSAValidator) recoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	key := common.BytesToHash(crypto.Keccak256(append(hash.Bytes(), sig...)))
	if signer, ok := v.signers.Get(key); ok {
		return signer, nil
	}
	pubkey, err := crypto.Ecrecover(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	signer := common.BytesToAddress(crypto.Keccak256(pubkey[1:])[12:])
	v.signers.Add(key, signer)
	return signer, nil
}
