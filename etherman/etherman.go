package etherman

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/common"
)

// ABI of the HTLC escrow contract. Lock commits funds under a
// hashlock/timelock pair; partial-fill escrows commit to a merkle root
// instead of a single secret hash and verify fragment proofs on claim.
const escrowABI = `[
	{"type":"function","name":"lock","stateMutability":"payable","inputs":[
		{"name":"orderKey","type":"bytes32"},
		{"name":"hashlock","type":"bytes32"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"beneficiary","type":"address"},
		{"name":"refundTo","type":"address"},
		{"name":"timelock","type":"uint256"},
		{"name":"allowPartial","type":"bool"}],"outputs":[]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
		{"name":"lockId","type":"bytes32"},
		{"name":"preimage","type":"bytes32"},
		{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
		{"name":"lockId","type":"bytes32"}],"outputs":[]},
	{"type":"event","name":"Locked","inputs":[
		{"name":"lockId","type":"bytes32","indexed":true},
		{"name":"orderKey","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"Claimed","inputs":[
		{"name":"lockId","type":"bytes32","indexed":true},
		{"name":"preimage","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"Refunded","inputs":[
		{"name":"lockId","type":"bytes32","indexed":true}],"anonymous":false}
]`

var LockedSignatureHash = crypto.Keccak256Hash([]byte("Locked(bytes32,bytes32,uint256)"))

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.LogFilterer
	ethereum.TransactionReader
	ethereum.TransactionSender

	bind.DeployBackend
	bind.ContractBackend
}

// Etherman drives the escrow contract on the EVM side. It satisfies the
// chain adapter interface the orchestrator works against.
type Etherman struct {
	cfg           *Config
	ethClient     ethereumClient
	escrowAddress ethcommon.Address
	escrowABI     abi.ABI
	escrow        *bind.BoundContract
	auth          *bind.TransactOpts
}

func NewEtherman(cfg *Config) (*Etherman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		return nil, err
	}

	sk, err := crypto.HexToECDSA(common.Trim0xPrefix(cfg.PrivateKey))
	if err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(sk, chainID)
	if err != nil {
		return nil, err
	}
	if cfg.GasLimit > 0 {
		auth.GasLimit = cfg.GasLimit
	}

	return newEtherman(cfg, ethClient, auth)
}

func newEtherman(cfg *Config, client ethereumClient, auth *bind.TransactOpts) (*Etherman, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, err
	}

	addr := ethcommon.HexToAddress(cfg.EscrowContractAddress)
	return &Etherman{
		cfg:           cfg,
		ethClient:     client,
		escrowAddress: addr,
		escrowABI:     parsed,
		escrow:        bind.NewBoundContract(addr, parsed, client, client, client),
		auth:          auth,
	}, nil
}

func (etherman *Etherman) Name() string { return "ethereum" }

func (etherman *Etherman) GetLatestFinalizedBlockNumber() (*big.Int, error) {
	blk, err := etherman.ethClient.BlockByNumber(context.Background(), big.NewInt(-3))
	if err != nil {
		return nil, err
	}
	return blk.Number(), nil
}

// Lock escrows funds for an order. The escrow contract derives the lock
// id itself and announces it in the Locked event, which is read back
// from the receipt.
func (etherman *Etherman) Lock(ctx context.Context, params *chain.LockParams) (*chain.LockResult, error) {
	opts := etherman.transactOpts(ctx, params.GasPrice)

	tx, err := etherman.escrow.Transact(opts, "lock",
		OrderKey(params.OrderID),
		[32]byte(params.Hashlock),
		ethcommon.HexToAddress(params.Asset),
		params.Amount,
		ethcommon.HexToAddress(params.Beneficiary),
		ethcommon.HexToAddress(params.RefundAddress),
		big.NewInt(params.Timelock.Unix()),
		params.AllowPartial,
	)
	if err != nil {
		return nil, mapContractErr(err)
	}

	receipt, err := etherman.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}

	lockID, err := etherman.lockIDFromReceipt(receipt)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"order":   params.OrderID,
		"lock_id": lockID,
		"tx":      tx.Hash().Hex(),
	}).Info("escrow locked on ethereum")

	return &chain.LockResult{
		TxHash:    tx.Hash().Hex(),
		OnchainID: lockID,
	}, nil
}

// Claim withdraws from the escrow with a pre-image. A zero amount
// claims whatever remains.
func (etherman *Etherman) Claim(ctx context.Context, onchainID string, preimage [32]byte, amount *big.Int) (*chain.TxResult, error) {
	if amount == nil {
		amount = new(big.Int)
	}

	opts := etherman.transactOpts(ctx, nil)
	tx, err := etherman.escrow.Transact(opts, "claim",
		common.HexStrToBytes32(onchainID), preimage, amount)
	if err != nil {
		return nil, mapContractErr(err)
	}

	if _, err := etherman.waitMined(ctx, tx); err != nil {
		return nil, err
	}
	return &chain.TxResult{TxHash: tx.Hash().Hex()}, nil
}

func (etherman *Etherman) Refund(ctx context.Context, onchainID string) (*chain.TxResult, error) {
	opts := etherman.transactOpts(ctx, nil)
	tx, err := etherman.escrow.Transact(opts, "refund", common.HexStrToBytes32(onchainID))
	if err != nil {
		return nil, mapContractErr(err)
	}

	if _, err := etherman.waitMined(ctx, tx); err != nil {
		return nil, err
	}
	return &chain.TxResult{TxHash: tx.Hash().Hex()}, nil
}

func (etherman *Etherman) transactOpts(ctx context.Context, gasPrice *big.Int) *bind.TransactOpts {
	opts := *etherman.auth
	opts.Context = ctx
	if gasPrice != nil {
		opts.GasPrice = gasPrice
	}
	return &opts
}

// waitMined polls for the receipt a bounded number of times. Hanging
// forever on a stuck tx would stall the orchestrator's per-order lock.
func (etherman *Etherman) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	for i := 0; i < etherman.cfg.ConfirmAttempts; i++ {
		receipt, err := etherman.ethClient.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, ErrExecutionReverted
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(etherman.cfg.ConfirmInterval):
		}
	}
	return nil, chain.ErrTxNotConfirmed
}

func (etherman *Etherman) lockIDFromReceipt(receipt *types.Receipt) (string, error) {
	for _, vlog := range receipt.Logs {
		if vlog.Address != etherman.escrowAddress || len(vlog.Topics) < 2 {
			continue
		}
		if vlog.Topics[0] == LockedSignatureHash {
			return vlog.Topics[1].Hex(), nil
		}
	}
	return "", chain.ErrNotFound
}

// OrderKey maps an order id onto the bytes32 key the escrow contract
// indexes by.
func OrderKey(orderID string) [32]byte {
	return crypto.Keccak256Hash([]byte(orderID))
}
