package chain

import "errors"

// The error taxonomy adapters are allowed to surface. The orchestrator
// and recovery monitor switch on these and nothing deeper; anything
// chain-specific must be wrapped into one of them before it leaves the
// adapter.
var (
	ErrInsufficientFunds = errors.New("insufficient funds on chain")
	ErrAlreadyClaimed    = errors.New("lock already claimed")
	ErrAlreadyRefunded   = errors.New("lock already refunded")
	ErrNotYetExpired     = errors.New("timelock has not expired")
	ErrInvalidProof      = errors.New("invalid pre-image or proof")
	ErrNotFound          = errors.New("unknown on-chain lock id")
	ErrTxNotConfirmed    = errors.New("transaction not confirmed within polling window")
)
