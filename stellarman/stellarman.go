package stellarman

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/common"
)

// Stellarman drives hashlocked claimable balances through Horizon. It
// satisfies the chain adapter interface the orchestrator works against.
type Stellarman struct {
	cfg     *Config
	horizon *horizonClient
	signer  Signer
}

func NewStellarman(cfg *Config, signer Signer) *Stellarman {
	return &Stellarman{
		cfg: cfg,
		horizon: newHorizonClient(cfg.HorizonURL, &http.Client{
			Timeout: cfg.HTTPTimeout,
		}),
		signer: signer,
	}
}

func (sman *Stellarman) Name() string { return "stellar" }

// Lock creates a hashlocked claimable balance holding the destination
// funds. The balance id is derived from the creating transaction, the
// same way the escrow derives it, so both sides agree without an extra
// round trip.
func (sman *Stellarman) Lock(ctx context.Context, params *chain.LockParams) (*chain.LockResult, error) {
	op := CreateEscrowOp{
		OrderKey:     params.OrderID,
		Asset:        params.Asset,
		Amount:       params.Amount.String(),
		Claimant:     params.Beneficiary,
		RefundTo:     params.RefundAddress,
		Hashlock:     common.Trim0xPrefix(params.Hashlock.Hex()),
		TimelockUnix: params.Timelock.Unix(),
		AllowPartial: params.AllowPartial,
	}

	tx, err := sman.submit(ctx, op)
	if err != nil {
		return nil, err
	}

	balanceID := DeriveBalanceID(tx.Hash)
	logger.WithFields(logger.Fields{
		"order":      params.OrderID,
		"balance_id": balanceID,
		"tx":         tx.Hash,
	}).Info("escrow locked on stellar")

	return &chain.LockResult{
		TxHash:    tx.Hash,
		OnchainID: balanceID,
	}, nil
}

// Claim withdraws from the balance with a pre-image. A nil amount
// claims whatever remains.
func (sman *Stellarman) Claim(ctx context.Context, onchainID string, preimage [32]byte, amount *big.Int) (*chain.TxResult, error) {
	op := ClaimEscrowOp{
		BalanceID: onchainID,
		Preimage:  hex.EncodeToString(preimage[:]),
	}
	if amount != nil {
		op.Amount = amount.String()
	}

	tx, err := sman.submit(ctx, op)
	if err != nil {
		return nil, err
	}
	return &chain.TxResult{TxHash: tx.Hash}, nil
}

func (sman *Stellarman) Refund(ctx context.Context, onchainID string) (*chain.TxResult, error) {
	tx, err := sman.submit(ctx, ClawbackEscrowOp{BalanceID: onchainID})
	if err != nil {
		return nil, err
	}
	return &chain.TxResult{TxHash: tx.Hash}, nil
}

// submit signs the operation against the current account sequence,
// posts it, and polls until the ledger confirms it or the polling
// budget runs out.
func (sman *Stellarman) submit(ctx context.Context, op Operation) (*horizonTransaction, error) {
	acc, err := sman.horizon.Account(ctx, sman.cfg.SourceAccount)
	if err != nil {
		return nil, err
	}
	seq, err := strconv.ParseInt(acc.Sequence, 10, 64)
	if err != nil {
		return nil, err
	}

	envelope, err := sman.signer.Sign(sman.cfg.SourceAccount, seq+1, op)
	if err != nil {
		return nil, err
	}

	tx, err := sman.horizon.SubmitTransaction(ctx, envelope)
	if err != nil {
		return nil, err
	}
	if tx.Successful {
		return tx, nil
	}
	return sman.waitConfirmed(ctx, tx.Hash)
}

func (sman *Stellarman) waitConfirmed(ctx context.Context, hash string) (*horizonTransaction, error) {
	for i := 0; i < sman.cfg.ConfirmAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sman.cfg.ConfirmInterval):
		}

		tx, err := sman.horizon.Transaction(ctx, hash)
		if err == chain.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if tx.Successful {
			return tx, nil
		}
	}
	return nil, chain.ErrTxNotConfirmed
}

// DeriveBalanceID maps a creating transaction onto its claimable
// balance id: sha256 over the hash and the operation index.
func DeriveBalanceID(txHash string) string {
	sum := sha256.Sum256([]byte(txHash + ":0"))
	return hex.EncodeToString(sum[:])
}
