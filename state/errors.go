package state

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("order id already exists")
	ErrAmountInvalid       = errors.New("amount must be positive")
	ErrHashlockInvalid     = errors.New("hashlock is zero or malformed")
	ErrTimelockOutOfRange  = errors.New("timelock outside the allowed window")
	ErrChainMissing        = errors.New("source and destination chains are required")
	ErrAddressMissing      = errors.New("sender and beneficiary addresses are required")
	ErrOrderNotFillable    = errors.New("order is not in a fillable status")
	ErrOrderTerminal       = errors.New("order already reached a terminal status")
	ErrBadTransition       = errors.New("illegal order status transition")
	ErrFragmentNotFound    = errors.New("fragment not found")
	ErrFragmentBusy        = errors.New("fragment claim already in flight")
	ErrSecretNotReleasable = errors.New("secret not releasable before earlier fragments are filled")
)
