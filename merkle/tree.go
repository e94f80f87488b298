package merkle

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoLeaves = errors.New("merkle tree needs at least one leaf")

// Tree is a keccak256 merkle tree over an ordered leaf sequence.
// Odd levels duplicate their last node, so the same leaf list always
// reproduces the same root regardless of padding tricks elsewhere.
type Tree struct {
	levels [][]ethcommon.Hash // levels[0] = leaves, last level = root
}

func BuildTree(leaves []ethcommon.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	levels := [][]ethcommon.Hash{append([]ethcommon.Hash{}, leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		if len(cur)%2 == 1 {
			cur = append(cur, cur[len(cur)-1])
		}
		next := make([]ethcommon.Hash, 0, len(cur)/2)
		for i := 0; i < len(cur); i += 2 {
			next = append(next, hashPair(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
	}

	return &Tree{levels: levels}, nil
}

func (t *Tree) Root() ethcommon.Hash {
	return t.levels[len(t.levels)-1][0]
}

func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Proof returns the sibling path for leaf index, bottom-up.
func (t *Tree) Proof(index int) ([]ethcommon.Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, errors.New("leaf index out of range")
	}

	proof := make([]ethcommon.Hash, 0, len(t.levels)-1)
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// odd level, the node was paired with its own duplicate
			sibling = idx
		}
		proof = append(proof, level[sibling])
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a leaf and its sibling path and
// compares against the committed root. Pure; any resolver can run it.
func VerifyProof(index int, leaf ethcommon.Hash, proof []ethcommon.Hash, root ethcommon.Hash) bool {
	if index < 0 {
		return false
	}

	h := leaf
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			h = hashPair(h, sibling)
		} else {
			h = hashPair(sibling, h)
		}
		idx /= 2
	}
	return h == root
}

func hashPair(left, right ethcommon.Hash) ethcommon.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}
