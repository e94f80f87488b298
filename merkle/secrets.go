package merkle

import (
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/FusionX-io/bridge-go/common"
)

var (
	ErrZeroTotalAmount      = errors.New("total amount must be positive")
	ErrBadFragmentCount     = errors.New("fragment count must be at least 1")
	ErrBadPercentages       = errors.New("fragment percentages must be positive and sum to 100")
	ErrPercentCountMismatch = errors.New("percentage count does not match fragment count")
)

// FragmentSecret is one fillable slice of an order, generated once at
// order creation. Secret is the raw pre-image; SecretHash the keccak256
// commitment that goes into the merkle tree.
type FragmentSecret struct {
	Index      int
	Secret     [32]byte
	SecretHash ethcommon.Hash
	FillAmount *big.Int
	Cumulative *big.Int // total claimable once fragments 0..Index are filled
	Percent    int
}

// GenerateSecrets splits totalAmount into count slices and draws one
// 32-byte secret per slice from crypto/rand. Secrets are never derived
// from clocks or seeded PRNGs; the commitment is the only hashed value.
//
// percents is optional. When nil the slices are equal (the remainder of
// an uneven division lands on the last slice so the cumulative total is
// exact). When given it must have count entries summing to 100.
func GenerateSecrets(totalAmount *big.Int, count int, percents []int) ([]*FragmentSecret, error) {
	if totalAmount == nil || totalAmount.Sign() <= 0 {
		return nil, ErrZeroTotalAmount
	}
	if count < 1 {
		return nil, ErrBadFragmentCount
	}

	if percents == nil {
		percents = make([]int, count)
		base := 100 / count
		for i := range percents {
			percents[i] = base
		}
		percents[count-1] += 100 - base*count
	}
	if len(percents) != count {
		return nil, ErrPercentCountMismatch
	}
	sum := 0
	for _, p := range percents {
		if p <= 0 {
			return nil, ErrBadPercentages
		}
		sum += p
	}
	if sum != 100 {
		return nil, ErrBadPercentages
	}

	hundred := big.NewInt(100)
	secrets := make([]*FragmentSecret, count)
	cumulative := new(big.Int)

	for i := 0; i < count; i++ {
		var amount *big.Int
		if i == count-1 {
			// absorb division dust into the final slice
			amount = new(big.Int).Sub(totalAmount, cumulative)
		} else {
			amount = new(big.Int).Mul(totalAmount, big.NewInt(int64(percents[i])))
			amount.Div(amount, hundred)
		}
		cumulative.Add(cumulative, amount)

		preimage := common.RandBytes32()
		secrets[i] = &FragmentSecret{
			Index:      i,
			Secret:     preimage,
			SecretHash: crypto.Keccak256Hash(preimage[:]),
			FillAmount: amount,
			Cumulative: common.BigIntClone(cumulative),
			Percent:    percents[i],
		}
	}

	return secrets, nil
}

// Hashlock returns the on-chain commitment for the fragment set: the
// merkle root when the order allows partial fills, otherwise the single
// leaf hash.
func Hashlock(secrets []*FragmentSecret, allowPartialFills bool) (ethcommon.Hash, error) {
	if len(secrets) == 0 {
		return ethcommon.Hash{}, ErrBadFragmentCount
	}
	if !allowPartialFills || len(secrets) == 1 {
		return secrets[0].SecretHash, nil
	}

	leaves := make([]ethcommon.Hash, len(secrets))
	for i, s := range secrets {
		leaves[i] = s.SecretHash
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return tree.Root(), nil
}
