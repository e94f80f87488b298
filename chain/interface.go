package chain

import (
	"context"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// LockParams carries everything an adapter needs to lock funds under a
// hash commitment. Addresses are chain-native strings; the coordinator
// never interprets them.
type LockParams struct {
	OrderID       string
	Hashlock      ethcommon.Hash
	Amount        *big.Int
	Asset         string
	Sender        string
	Beneficiary   string
	RefundAddress string
	Timelock      time.Time
	SafetyDeposit *big.Int
	AllowPartial  bool
	GasPrice      *big.Int // optional, honored as-is
}

// LockResult identifies the created on-chain lock. OnchainID is the
// adapter's own handle (contract escrow id, claimable balance id, ...).
type LockResult struct {
	TxHash    string
	OnchainID string
}

type TxResult struct {
	TxHash string
}

// Adapter is the contract every ledger integration implements. The
// orchestrator treats all three calls as opaque remote operations: a
// txHash on success, one of the errors.go taxonomy on failure. Calls
// must return within the adapter's bounded polling window, never hang.
type Adapter interface {
	// Name is the chain identifier used in events and order records,
	// e.g. "ethereum", "stellar".
	Name() string

	Lock(ctx context.Context, params *LockParams) (*LockResult, error)

	// Claim releases locked funds against a pre-image. A nil amount
	// claims the full remaining balance.
	Claim(ctx context.Context, onchainID string, preimage [32]byte, amount *big.Int) (*TxResult, error)

	// Refund returns funds after timelock expiry.
	Refund(ctx context.Context, onchainID string) (*TxResult, error)
}
