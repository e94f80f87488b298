package merkle

import (
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrFragmentIndexOutOfRange = errors.New("fragment index out of range")
	ErrFragmentAlreadyFilled   = errors.New("fragment already filled")
	ErrSecretHashMismatch      = errors.New("secret hash does not match committed leaf")
	ErrExceedsCumulativeCap    = errors.New("fill would exceed the fragment cumulative cap")
	ErrPriorFragmentUnfilled   = errors.New("earlier fragment not yet filled")
)

// Leaf is the validation view of a fragment: the committed hash, its
// amounts and whether it has been filled. Callers map their own
// fragment records into this shape.
type Leaf struct {
	SecretHash ethcommon.Hash
	FillAmount *big.Int
	Cumulative *big.Int
	Filled     bool
}

// FillCheck is the outcome of ValidatePartialFill. NextIndex is the
// fragment whose secret may be revealed next (-1 once the order is
// fully consumed by this fill).
type FillCheck struct {
	NextIndex int
}

// ValidatePartialFill gates a resolver's fill attempt on fragment index.
// It enforces, in order:
//
//  1. the presented secret hash equals the committed leaf,
//  2. the fragment is not already filled,
//  3. every fragment before index is filled (progressive revelation),
//  4. currentFilled + fillAmount stays within the fragment's cumulative cap.
//
// A failure never mutates anything; the caller simply reports the
// rejected attempt.
func ValidatePartialFill(leaves []*Leaf, index int, secretHash ethcommon.Hash, fillAmount, currentFilled *big.Int) (*FillCheck, error) {
	if index < 0 || index >= len(leaves) {
		return nil, ErrFragmentIndexOutOfRange
	}

	leaf := leaves[index]
	if leaf.SecretHash != secretHash {
		return nil, ErrSecretHashMismatch
	}
	if leaf.Filled {
		return nil, ErrFragmentAlreadyFilled
	}
	for i := 0; i < index; i++ {
		if !leaves[i].Filled {
			return nil, ErrPriorFragmentUnfilled
		}
	}

	total := new(big.Int).Add(currentFilled, fillAmount)
	if total.Cmp(leaf.Cumulative) > 0 {
		return nil, ErrExceedsCumulativeCap
	}

	next := index + 1
	if next >= len(leaves) {
		next = -1
	}
	return &FillCheck{NextIndex: next}, nil
}
