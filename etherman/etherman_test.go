package etherman

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FusionX-io/bridge-go/chain"
)

func TestEscrowABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	require.NoError(t, err)

	for _, name := range []string{"lock", "claim", "refund"} {
		_, ok := parsed.Methods[name]
		assert.True(t, ok, "missing method %s", name)
	}

	locked, ok := parsed.Events["Locked"]
	require.True(t, ok)
	assert.Equal(t, LockedSignatureHash, locked.ID)
}

func TestOrderKeyDeterministic(t *testing.T) {
	k1 := OrderKey("ord-1")
	k2 := OrderKey("ord-1")
	k3 := OrderKey("ord-2")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, [32]byte{}, k1)
}

func TestMapContractErr(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"execution reverted: Escrow: already claimed", chain.ErrAlreadyClaimed},
		{"execution reverted: Escrow: already refunded", chain.ErrAlreadyRefunded},
		{"execution reverted: Escrow: timelock not expired", chain.ErrNotYetExpired},
		{"execution reverted: Escrow: invalid preimage", chain.ErrInvalidProof},
		{"execution reverted: Escrow: invalid proof for fragment", chain.ErrInvalidProof},
		{"execution reverted: Escrow: unknown lock", chain.ErrNotFound},
		{"insufficient funds for gas * price + value", chain.ErrInsufficientFunds},
	}
	for _, c := range cases {
		assert.ErrorIs(t, mapContractErr(errors.New(c.msg)), c.want, c.msg)
	}

	opaque := errors.New("connection refused")
	assert.Equal(t, opaque, mapContractErr(opaque))
	assert.NoError(t, mapContractErr(nil))
}

func TestLockIDFromReceipt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EscrowContractAddress = "0x00000000000000000000000000000000000000aa"
	etherman, err := newEtherman(cfg, nil, nil)
	require.NoError(t, err)

	lockID := ethcommon.HexToHash("0xbeef")
	receipt := &types.Receipt{
		Logs: []*types.Log{
			{
				// noise from another contract
				Address: ethcommon.HexToAddress("0xbb"),
				Topics:  []ethcommon.Hash{LockedSignatureHash, ethcommon.HexToHash("0xdead")},
			},
			{
				Address: etherman.escrowAddress,
				Topics:  []ethcommon.Hash{LockedSignatureHash, lockID},
				Data:    big.NewInt(1000).Bytes(),
			},
		},
	}

	got, err := etherman.lockIDFromReceipt(receipt)
	require.NoError(t, err)
	assert.Equal(t, lockID.Hex(), got)
}

func TestLockIDFromReceiptMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EscrowContractAddress = "0xaa"
	etherman, err := newEtherman(cfg, nil, nil)
	require.NoError(t, err)

	_, err = etherman.lockIDFromReceipt(&types.Receipt{})
	assert.ErrorIs(t, err, chain.ErrNotFound)
}
