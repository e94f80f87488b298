package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/FusionX-io/bridge-go/common"
)

// SimChain is an in-memory ledger honoring hashlock/timelock semantics.
// It backs the package tests the same way the simulated backends do in
// the per-chain adapter packages: deterministic, no network, injectable
// clock and failures.
type SimChain struct {
	name string

	mu    sync.Mutex
	locks map[string]*simLock

	// Now is the chain's clock. Tests swap it to advance time.
	Now func() time.Time

	// error to return on the next matching call, one-shot
	failLock   error
	failClaim  error
	failRefund error
}

type simLock struct {
	params   *LockParams
	claimed  *big.Int
	refunded bool
}

func NewSimChain(name string) *SimChain {
	return &SimChain{
		name:  name,
		locks: make(map[string]*simLock),
		Now:   time.Now,
	}
}

func (sc *SimChain) Name() string { return sc.name }

// FailNext arms a one-shot error for the named op ("lock", "claim",
// "refund").
func (sc *SimChain) FailNext(op string, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	switch op {
	case "lock":
		sc.failLock = err
	case "claim":
		sc.failClaim = err
	case "refund":
		sc.failRefund = err
	}
}

func (sc *SimChain) Lock(_ context.Context, params *LockParams) (*LockResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.failLock != nil {
		err := sc.failLock
		sc.failLock = nil
		return nil, err
	}

	id := fmt.Sprintf("%s-%s", sc.name, common.ByteSliceToPureHexStr(common.RandBytes(8)))
	sc.locks[id] = &simLock{
		params:  params,
		claimed: new(big.Int),
	}

	return &LockResult{
		TxHash:    randTxHash(),
		OnchainID: id,
	}, nil
}

func (sc *SimChain) Claim(_ context.Context, onchainID string, preimage [32]byte, amount *big.Int) (*TxResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.failClaim != nil {
		err := sc.failClaim
		sc.failClaim = nil
		return nil, err
	}

	lock, ok := sc.locks[onchainID]
	if !ok {
		return nil, ErrNotFound
	}
	if lock.refunded {
		return nil, ErrAlreadyRefunded
	}

	// Partial-fill locks commit to a merkle root; proof checking there
	// is the contract's business and out of scope for the simulator.
	// Single-fill locks verify the pre-image directly.
	if !lock.params.AllowPartial {
		if crypto.Keccak256Hash(preimage[:]) != lock.params.Hashlock {
			return nil, ErrInvalidProof
		}
	} else if preimage == ([32]byte{}) {
		return nil, ErrInvalidProof
	}

	remaining := new(big.Int).Sub(lock.params.Amount, lock.claimed)
	if remaining.Sign() <= 0 {
		return nil, ErrAlreadyClaimed
	}
	if amount == nil {
		amount = remaining
	}
	if amount.Cmp(remaining) > 0 {
		return nil, ErrInsufficientFunds
	}
	lock.claimed.Add(lock.claimed, amount)

	return &TxResult{TxHash: randTxHash()}, nil
}

func (sc *SimChain) Refund(_ context.Context, onchainID string) (*TxResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.failRefund != nil {
		err := sc.failRefund
		sc.failRefund = nil
		return nil, err
	}

	lock, ok := sc.locks[onchainID]
	if !ok {
		return nil, ErrNotFound
	}
	if lock.refunded {
		return nil, ErrAlreadyRefunded
	}
	if sc.Now().Before(lock.params.Timelock) {
		return nil, ErrNotYetExpired
	}
	lock.refunded = true

	return &TxResult{TxHash: randTxHash()}, nil
}

// Claimed reports how much of a lock has been claimed so far.
func (sc *SimChain) Claimed(onchainID string) *big.Int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if lock, ok := sc.locks[onchainID]; ok {
		return common.BigIntClone(lock.claimed)
	}
	return nil
}

// Refunded reports whether the lock has been refunded.
func (sc *SimChain) Refunded(onchainID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if lock, ok := sc.locks[onchainID]; ok {
		return lock.refunded
	}
	return false
}

func randTxHash() string {
	h := common.RandBytes32()
	return common.Prepend0xPrefix(common.ByteSliceToPureHexStr(h[:]))
}
