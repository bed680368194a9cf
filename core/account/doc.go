// Copyright 2026 The automation-module Authors
// This file is part of the automation-module library.

/*
Package account implements the modular smart account (SCA).

The account is the stateful core of the system: it owns workflow storage,
owns role grants, exposes the execution and validation entry points, and
composes the access-control vocabulary with a per-account module registry
of three capability slots (validator, executor, fallback).

# Entry points

Every operation is reachable through the account's wire dispatch (Run), so
cross-component callers always carry an authentic caller identity:

	initializeAccount  - bootstrap owner, exactly once
	installModule      - capability-checked slot bookkeeping + module hook
	uninstallModule    - mirror image, atomic with the module's deinit hook
	validateUserOp     - trigger-gated, prefund first, validator from nonce
	execute            - entry point or self; single or batch call modes
	executeFromExecutor- installed executor modules only
	executeUserOp      - strips the selector prefix and self-calls the rest
	saveWorkflowData   - policy-gated workflow payload storage
	executeWorkflow    - runs the stored payload with the account's authority
	authorizeUpgrade   - the single owner-gated upgrade gate

# Automation flow

	owner stores workflow payload on the account
	    -> account registers the workflow id with the registry
	        -> a trigger asks the registry to run the workflow
	            -> registry calls the executor module
	                -> executor module calls back into the account
	                    -> account executes the payload, emits WorkflowExecuted

A failed hop anywhere in that chain reverts the whole top-level invocation;
no failure is swallowed at any hop.

The account itself carries no mutex: the execution model is strictly
sequential per invocation chain, and cross-invocation ordering is whatever
the surrounding environment serializes.
*/
package account
