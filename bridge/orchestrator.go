package bridge

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/common"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/state"
)

var (
	ErrTimelockNotPassed  = errors.New("order timelock has not passed")
	ErrUnknownSecret      = errors.New("pre-image does not match any fragment")
	ErrCancelNotAllowed   = errors.New("order cannot be cancelled after a fill")
	ErrMissingOnchainLock = errors.New("order has no recorded on-chain locks")
)

// Orchestrator owns the per-order status machine and sequences every
// cross-chain operation. It is the only writer besides the recovery
// monitor, and both go through the Store's single-writer contract.
type Orchestrator struct {
	store *state.Store
	bus   *eventbus.Bus
	src   chain.Adapter // EVM side, locked first
	dst   chain.Adapter // stellar side
}

func New(store *state.Store, bus *eventbus.Bus, src, dst chain.Adapter) *Orchestrator {
	return &Orchestrator{
		store: store,
		bus:   bus,
		src:   src,
		dst:   dst,
	}
}

func (orc *Orchestrator) Store() *state.Store { return orc.store }

// CreateOrder validates and records the order, then locks funds on the
// EVM chain first and the Stellar side second. A failed lock marks the
// order FAILED and stops; nothing was claimable yet, so no compensation
// runs.
func (orc *Orchestrator) CreateOrder(ctx context.Context, params *state.CreateOrderParams) (*state.Order, error) {
	order, frags, err := orc.store.CreateOrder(params)
	if err != nil {
		return nil, err
	}

	newLogger := logger.WithFields(logger.Fields{
		"order":    order.ID,
		"hashlock": common.Shorten(order.Hashlock.String(), 8),
	})

	if _, err := orc.store.SetStatus(order.ID, state.OrderStatusEthereumPending); err != nil {
		return nil, err
	}
	srcRes, err := orc.src.Lock(ctx, &chain.LockParams{
		OrderID:       order.ID,
		Hashlock:      order.Hashlock,
		Amount:        order.SrcAmount,
		Asset:         order.SrcAsset,
		Sender:        order.Sender,
		Beneficiary:   order.Beneficiary,
		RefundAddress: order.SrcRefundAddr,
		Timelock:      order.Timelock,
		SafetyDeposit: order.SafetyDeposit,
		AllowPartial:  order.AllowPartialFills,
	})
	if err != nil {
		newLogger.Errorf("eth lock failed: err=%v", err)
		return orc.failOrder(order, "source lock failed: "+err.Error())
	}

	if _, err := orc.store.SetStatus(order.ID, state.OrderStatusStellarPending); err != nil {
		return nil, err
	}
	dstRes, err := orc.dst.Lock(ctx, &chain.LockParams{
		OrderID:       order.ID,
		Hashlock:      order.Hashlock,
		Amount:        order.DstAmount,
		Asset:         order.DstAsset,
		Sender:        order.Beneficiary,
		Beneficiary:   order.Sender,
		RefundAddress: order.DstRefundAddr,
		Timelock:      order.Timelock,
		AllowPartial:  order.AllowPartialFills,
	})
	if err != nil {
		newLogger.Errorf("stellar lock failed: err=%v", err)
		return orc.failOrder(order, "destination lock failed: "+err.Error())
	}

	if err := orc.store.RecordLocks(order.ID, srcRes.OnchainID, srcRes.TxHash, dstRes.OnchainID, dstRes.TxHash); err != nil {
		return nil, err
	}
	order, err = orc.store.SetStatus(order.ID, state.OrderStatusBothActive)
	if err != nil {
		return nil, err
	}

	orc.bus.Publish(eventbus.OrderCreatedPayload{
		OrderID:       order.ID,
		SrcChain:      order.SrcChain,
		DstChain:      order.DstChain,
		Amount:        order.SrcAmount.String(),
		Hashlock:      order.Hashlock.String(),
		Timelock:      order.Timelock.Unix(),
		FragmentCount: order.FragmentCount,
	}, eventbus.Metadata{OrderID: order.ID, ChainID: order.SrcChain})

	// cross-chain coordination announcement
	orc.bus.Publish(eventbus.ProgressUpdatePayload{
		OrderID: order.ID,
		Stage:   "both_active",
		Detail:  "locks confirmed on " + orc.src.Name() + " and " + orc.dst.Name(),
	}, eventbus.Metadata{OrderID: order.ID})

	if order.Auction != nil {
		orc.bus.Publish(eventbus.RecommendationGeneratedPayload{
			OrderID:        order.ID,
			Recommendation: "auction_started",
			CurrentPrice:   auction.PriceAt(order.Auction, orc.store.Now()).String(),
		}, eventbus.Metadata{OrderID: order.ID})
	}

	if len(frags) > 0 {
		orc.bus.Publish(eventbus.FragmentReadyPayload{
			OrderID:       order.ID,
			FragmentIndex: 0,
			FillAmount:    frags[0].FillAmount.String(),
			SecretHash:    frags[0].SecretHash.String(),
		}, eventbus.Metadata{OrderID: order.ID})
	}

	newLogger.Info("order active on both chains")
	return order, nil
}

func (orc *Orchestrator) failOrder(order *state.Order, reason string) (*state.Order, error) {
	failed, err := orc.store.SetStatus(order.ID, state.OrderStatusFailed)
	if err != nil {
		return nil, err
	}
	orc.bus.Publish(eventbus.OrderInvalidPayload{
		OrderID: order.ID,
		Reason:  reason,
	}, eventbus.Metadata{OrderID: order.ID, Urgent: true})
	return failed, nil
}

// ClaimOrder resolves the pre-image to a fragment, claims on both
// chains concurrently and applies the fill. amount nil claims the full
// fragment.
func (orc *Orchestrator) ClaimOrder(ctx context.Context, id string, preimage [32]byte, amount *big.Int, resolver string) (*state.Order, error) {
	order, err := orc.store.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if order.Status != state.OrderStatusBothActive && order.Status != state.OrderStatusPartiallyFilled {
		return nil, state.ErrOrderNotFillable
	}
	if order.SrcOnchainID == "" || order.DstOnchainID == "" {
		return nil, ErrMissingOnchainLock
	}

	frags, err := orc.store.GetFragments(id)
	if err != nil {
		return nil, err
	}
	secretHash := crypto.Keccak256Hash(preimage[:])
	var frag *state.Fragment
	for _, f := range frags {
		if f.SecretHash == secretHash {
			frag = f
			break
		}
	}
	if frag == nil {
		return nil, ErrUnknownSecret
	}
	if amount == nil {
		amount = frag.FillAmount
	}

	// Validate and reserve the fragment before any chain sees the
	// claim: an out-of-order, over-cap, or duplicate fill stops here
	// with both ledgers untouched.
	if err := orc.store.BeginFill(id, frag.Index, amount); err != nil {
		return nil, err
	}

	// destination leg scaled to the order's exchange ratio
	dstAmount := new(big.Int).Mul(amount, order.DstAmount)
	dstAmount.Div(dstAmount, order.SrcAmount)

	srcRes, dstRes, err := orc.bothChains(ctx,
		func(ctx context.Context) (*chain.TxResult, error) {
			return orc.src.Claim(ctx, order.SrcOnchainID, preimage, amount)
		},
		func(ctx context.Context) (*chain.TxResult, error) {
			return orc.dst.Claim(ctx, order.DstOnchainID, preimage, dstAmount)
		},
	)
	if err != nil {
		logger.WithFields(logger.Fields{"order": id, "fragment": frag.Index}).
			Errorf("claim failed: err=%v", err)
		if aerr := orc.store.AbortFill(id, frag.Index); aerr != nil {
			logger.Errorf("failed to release fragment reservation: order=%s fragment=%d err=%v", id, frag.Index, aerr)
		}
		return nil, err
	}
	_ = dstRes

	order, err = orc.store.ApplyFill(id, frag.Index, amount, resolver, srcRes.TxHash)
	if err != nil {
		// on-chain claim landed but the local fill was rejected; the
		// recovery monitor will reconcile via timelock. Surface loudly.
		logger.WithFields(logger.Fields{"order": id, "fragment": frag.Index}).
			Errorf("fill rejected after on-chain claim: err=%v", err)
		return nil, err
	}

	orc.publishFill(order, frags, frag, amount, resolver, srcRes.TxHash)
	return order, nil
}

func (orc *Orchestrator) publishFill(order *state.Order, frags []*state.Fragment, frag *state.Fragment, amount *big.Int, resolver, txHash string) {
	if order.Status == state.OrderStatusCompleted {
		// exactly one OrderFilled per order, carrying the full amount
		orc.bus.Publish(eventbus.OrderFilledPayload{
			OrderID:    order.ID,
			Resolver:   resolver,
			FillAmount: order.SrcAmount.String(),
			TxHash:     txHash,
		}, eventbus.Metadata{OrderID: order.ID, Resolver: resolver, ChainID: order.SrcChain})
		return
	}

	orc.bus.Publish(eventbus.OrderFilledPartiallyPayload{
		OrderID:        order.ID,
		FragmentIndex:  frag.Index,
		Resolver:       resolver,
		FillAmount:     amount.String(),
		FilledTotal:    order.FilledAmount.String(),
		Remaining:      order.RemainingAmount.String(),
		FillPercentage: order.FillPercentage(),
	}, eventbus.Metadata{OrderID: order.ID, Resolver: resolver, ChainID: order.SrcChain})

	next := frag.Index + 1
	if next < len(frags) {
		orc.bus.Publish(eventbus.FragmentReadyPayload{
			OrderID:       order.ID,
			FragmentIndex: next,
			FillAmount:    frags[next].FillAmount.String(),
			SecretHash:    frags[next].SecretHash.String(),
		}, eventbus.Metadata{OrderID: order.ID})
	}
}

// RefundOrder refunds both chains concurrently once the timelock has
// passed. force skips the time gate; only the recovery monitor's
// authorized escalation paths set it.
func (orc *Orchestrator) RefundOrder(ctx context.Context, id string, force bool) (*state.Order, error) {
	order, err := orc.store.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, state.ErrOrderTerminal
	}
	if order.SrcOnchainID == "" || order.DstOnchainID == "" {
		return nil, ErrMissingOnchainLock
	}
	if !force && orc.store.Now().Before(order.Timelock) {
		return nil, ErrTimelockNotPassed
	}

	// A retry after a half-refund hits one leg that is already done;
	// the adapters report that as ErrAlreadyRefunded and it counts as
	// success here.
	_, _, err = orc.bothChains(ctx,
		func(ctx context.Context) (*chain.TxResult, error) {
			res, err := orc.src.Refund(ctx, order.SrcOnchainID)
			if errors.Is(err, chain.ErrAlreadyRefunded) {
				return &chain.TxResult{}, nil
			}
			return res, err
		},
		func(ctx context.Context) (*chain.TxResult, error) {
			res, err := orc.dst.Refund(ctx, order.DstOnchainID)
			if errors.Is(err, chain.ErrAlreadyRefunded) {
				return &chain.TxResult{}, nil
			}
			return res, err
		},
	)
	if err != nil {
		// one side may have refunded; the order must stay recoverable,
		// never half-terminal
		return nil, err
	}

	order, err = orc.store.SetStatus(id, state.OrderStatusRefunded)
	if err != nil {
		return nil, err
	}

	orc.bus.Publish(eventbus.OrderCancelledPayload{
		OrderID: id,
		Reason:  "refunded after timelock expiry",
	}, eventbus.Metadata{OrderID: id, Urgent: true})

	return order, nil
}

// CancelOrder withdraws an order before any fill. Orders with active
// locks can only be cancelled once their timelock allows refunds.
func (orc *Orchestrator) CancelOrder(ctx context.Context, id string) (*state.Order, error) {
	order, err := orc.store.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, state.ErrOrderTerminal
	}
	if order.FilledAmount.Sign() > 0 {
		return nil, ErrCancelNotAllowed
	}

	if order.SrcOnchainID == "" && order.DstOnchainID == "" {
		// nothing locked, plain local cancel
		order, err = orc.store.SetStatus(id, state.OrderStatusFailed)
		if err != nil {
			return nil, err
		}
		orc.bus.Publish(eventbus.OrderCancelledPayload{
			OrderID: id,
			Reason:  "cancelled before locks",
		}, eventbus.Metadata{OrderID: id})
		return order, nil
	}

	return orc.RefundOrder(ctx, id, false)
}

type chainCall func(ctx context.Context) (*chain.TxResult, error)

// bothChains runs the two legs concurrently and joins on both. Either
// error is returned (source leg's first); success requires both.
func (orc *Orchestrator) bothChains(ctx context.Context, srcCall, dstCall chainCall) (*chain.TxResult, *chain.TxResult, error) {
	var (
		srcRes, dstRes *chain.TxResult
		srcErr, dstErr error
		done           = make(chan struct{}, 2)
	)

	go func() {
		srcRes, srcErr = srcCall(ctx)
		done <- struct{}{}
	}()
	go func() {
		dstRes, dstErr = dstCall(ctx)
		done <- struct{}{}
	}()
	<-done
	<-done

	if srcErr != nil {
		return nil, nil, srcErr
	}
	if dstErr != nil {
		return nil, nil, dstErr
	}
	return srcRes, dstRes, nil
}
