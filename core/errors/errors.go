package errors

import stderrors "errors"

// Ledger failures.
var (
	ErrInsufficientBalance   = stderrors.New("insufficient balance")
	ErrInsufficientAllowance = stderrors.New("insufficient allowance")
	ErrUnauthorized          = stderrors.New("you are not authorized to manage this contract")
	ErrOverflow              = stderrors.New("integer overflow")
	ErrInvalidAmount         = stderrors.New("invalid amount")
)

// Staking pool failures.
var (
	ErrInsufficientStake = stderrors.New("insufficient stake")
)

// Quorum failures.
var (
	ErrNotAManager     = stderrors.New("you are not a manager")
	ErrNoPendingChange = stderrors.New("no pending change")
	ErrQuorumNotMet    = stderrors.New("not all confirmed yet")
)

// Deployment failures.
var (
	ErrNotDeployed     = stderrors.New("contract not deployed")
	ErrAlreadyDeployed = stderrors.New("contract already deployed")
)
