package bridge

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/chain"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/merkle"
	"github.com/FusionX-io/bridge-go/state"
)

type testRig struct {
	orc   *Orchestrator
	store *state.Store
	bus   *eventbus.Bus
	src   *chain.SimChain
	dst   *chain.SimChain
	clock *time.Time
}

func newTestRig(t *testing.T) *testRig {
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	statedb, err := state.NewStateDB(sqlDB)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)

	now := time.Unix(1_700_000_000, 0).UTC()
	store := state.NewStore(statedb, state.DefaultConfig())
	store.Now = func() time.Time { return now }

	src := chain.NewSimChain("ethereum")
	dst := chain.NewSimChain("stellar")
	src.Now = func() time.Time { return now }
	dst.Now = func() time.Time { return now }

	bus := eventbus.New(nil)
	return &testRig{
		orc:   New(store, bus, src, dst),
		store: store,
		bus:   bus,
		src:   src,
		dst:   dst,
		clock: &now,
	}
}

func (r *testRig) advance(d time.Duration) {
	*r.clock = r.clock.Add(d)
}

func (r *testRig) params(id string) *state.CreateOrderParams {
	return &state.CreateOrderParams{
		ID:                id,
		SrcChain:          "ethereum",
		DstChain:          "stellar",
		SrcAsset:          "0x00000000000000000000000000000000000000aa",
		SrcAmount:         big.NewInt(1000),
		DstAsset:          "USDC:GAXX",
		DstAmount:         big.NewInt(1000),
		Timelock:          r.clock.Add(2 * time.Hour),
		Sender:            "0x1111111111111111111111111111111111111111",
		Beneficiary:       "GBENEFICIARY",
		SrcRefundAddr:     "0x1111111111111111111111111111111111111111",
		DstRefundAddr:     "GREFUND",
		AllowPartialFills: true,
		FragmentCount:     5,
	}
}

func TestCreateOrderLocksBothChains(t *testing.T) {
	rig := newTestRig(t)

	var events []*eventbus.EventMessage
	rig.bus.Subscribe(nil, func(ev *eventbus.EventMessage) { events = append(events, ev) })

	order, err := rig.orc.CreateOrder(context.Background(), rig.params("ord-1"))
	require.NoError(t, err)

	assert.Equal(t, state.OrderStatusBothActive, order.Status)
	assert.NotEmpty(t, order.SrcOnchainID)
	assert.NotEmpty(t, order.DstOnchainID)

	var types []eventbus.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, eventbus.EventOrderCreated)
	assert.Contains(t, types, eventbus.EventProgressUpdate)
	assert.Contains(t, types, eventbus.EventFragmentReady)
}

func TestCreateOrderSourceLockFails(t *testing.T) {
	rig := newTestRig(t)
	rig.src.FailNext("lock", chain.ErrInsufficientFunds)

	order, err := rig.orc.CreateOrder(context.Background(), rig.params("ord-fail"))
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusFailed, order.Status)

	// nothing was claimable, no lock recorded on either side
	stored, err := rig.store.GetOrder("ord-fail")
	require.NoError(t, err)
	assert.Empty(t, stored.SrcOnchainID)
	assert.Empty(t, stored.DstOnchainID)
}

func TestCreateOrderDestinationLockFails(t *testing.T) {
	rig := newTestRig(t)
	rig.dst.FailNext("lock", chain.ErrInsufficientFunds)

	order, err := rig.orc.CreateOrder(context.Background(), rig.params("ord-fail2"))
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusFailed, order.Status)
}

// Scenario A: 1000 units, 5 fragments of 20%, fill fragment 0.
func TestPartialFillScenario(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-a"))
	require.NoError(t, err)

	secret, _, err := rig.store.RevealSecret("ord-a", 0)
	require.NoError(t, err)

	order, err := rig.orc.ClaimOrder(ctx, "ord-a", secret, big.NewInt(200), "resolver-1")
	require.NoError(t, err)

	assert.Equal(t, state.OrderStatusPartiallyFilled, order.Status)
	assert.Equal(t, 20, order.FillPercentage())
	assert.Equal(t, int64(800), order.RemainingAmount.Int64())
}

// Scenario B: fill all five fragments sequentially.
func TestFullFillScenario(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	order, err := rig.orc.CreateOrder(ctx, rig.params("ord-b"))
	require.NoError(t, err)

	var filledEvents []*eventbus.EventMessage
	rig.bus.Subscribe(&eventbus.Filter{Types: []eventbus.EventType{eventbus.EventOrderFilled}},
		func(ev *eventbus.EventMessage) { filledEvents = append(filledEvents, ev) })

	for i := 0; i < 5; i++ {
		secret, _, err := rig.store.RevealSecret("ord-b", i)
		require.NoError(t, err)
		order, err = rig.orc.ClaimOrder(ctx, "ord-b", secret, nil, "resolver-1")
		require.NoError(t, err)
	}

	assert.Equal(t, state.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(0), order.RemainingAmount.Int64())

	// exactly one OrderFilled, carrying the original total
	require.Len(t, filledEvents, 1)
	payload := filledEvents[0].Payload.(eventbus.OrderFilledPayload)
	assert.Equal(t, "1000", payload.FillAmount)

	// both simulated ledgers saw the full amount claimed
	assert.Equal(t, int64(1000), rig.src.Claimed(order.SrcOnchainID).Int64())
	assert.Equal(t, int64(1000), rig.dst.Claimed(order.DstOnchainID).Int64())
}

func TestClaimOutOfOrderRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-c"))
	require.NoError(t, err)

	// fragment 1's secret cannot be revealed yet; pull it from storage
	frags, err := rig.store.GetFragments("ord-c")
	require.NoError(t, err)

	_, err = rig.orc.ClaimOrder(ctx, "ord-c", frags[1].Secret, nil, "resolver-1")
	assert.ErrorIs(t, err, merkle.ErrPriorFragmentUnfilled)

	order, err := rig.store.GetOrder("ord-c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), order.FilledAmount.Int64(), "rejected fill must not change filledAmount")

	// the rejection happened before either adapter was called
	assert.Equal(t, int64(0), rig.src.Claimed(order.SrcOnchainID).Int64())
	assert.Equal(t, int64(0), rig.dst.Claimed(order.DstOnchainID).Int64())
}

func TestClaimChainFailureReleasesFragment(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-c2"))
	require.NoError(t, err)

	secret, _, err := rig.store.RevealSecret("ord-c2", 0)
	require.NoError(t, err)

	rig.src.FailNext("claim", chain.ErrTxNotConfirmed)
	rig.dst.FailNext("claim", chain.ErrTxNotConfirmed)
	_, err = rig.orc.ClaimOrder(ctx, "ord-c2", secret, nil, "resolver-1")
	require.Error(t, err)

	// the reservation is released, a retry goes through
	order, err := rig.orc.ClaimOrder(ctx, "ord-c2", secret, nil, "resolver-1")
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusPartiallyFilled, order.Status)
}

func TestCreateOrderAuctionAnnounced(t *testing.T) {
	rig := newTestRig(t)

	var recs []*eventbus.EventMessage
	rig.bus.Subscribe(&eventbus.Filter{Types: []eventbus.EventType{eventbus.EventRecommendationGenerated}},
		func(ev *eventbus.EventMessage) { recs = append(recs, ev) })

	p := rig.params("ord-auc")
	p.Auction = &auction.Config{
		StartTime:       *rig.clock,
		Duration:        2 * time.Minute,
		InitialPrice:    decimal.NewFromInt(100),
		EndPrice:        decimal.NewFromInt(90),
		InitialRateBump: decimal.NewFromFloat(0.05),
	}
	_, err := rig.orc.CreateOrder(context.Background(), p)
	require.NoError(t, err)

	// announced once at activation, priced at the opening rate
	require.Len(t, recs, 1)
	payload := recs[0].Payload.(eventbus.RecommendationGeneratedPayload)
	assert.Equal(t, "ord-auc", payload.OrderID)
	price, err := decimal.NewFromString(payload.CurrentPrice)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(105)))

	// plain orders announce nothing
	_, err = rig.orc.CreateOrder(context.Background(), rig.params("ord-plain"))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestClaimWithUnknownSecret(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-d"))
	require.NoError(t, err)

	_, err = rig.orc.ClaimOrder(ctx, "ord-d", [32]byte{1, 2, 3}, nil, "resolver-1")
	assert.ErrorIs(t, err, ErrUnknownSecret)
}

func TestRefundBeforeTimelockRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-e"))
	require.NoError(t, err)

	_, err = rig.orc.RefundOrder(ctx, "ord-e", false)
	assert.ErrorIs(t, err, ErrTimelockNotPassed)
}

func TestRefundAfterTimelock(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	order, err := rig.orc.CreateOrder(ctx, rig.params("ord-f"))
	require.NoError(t, err)

	rig.advance(3 * time.Hour)

	refunded, err := rig.orc.RefundOrder(ctx, "ord-f", false)
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusRefunded, refunded.Status)
	assert.True(t, rig.src.Refunded(order.SrcOnchainID))
	assert.True(t, rig.dst.Refunded(order.DstOnchainID))
}

func TestRefundHalfFailureStaysActive(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-g"))
	require.NoError(t, err)

	rig.advance(3 * time.Hour)
	rig.dst.FailNext("refund", errors.New("horizon timeout"))

	_, err = rig.orc.RefundOrder(ctx, "ord-g", false)
	require.Error(t, err)

	// half-refunded must never be terminal
	order, err := rig.store.GetOrder("ord-g")
	require.NoError(t, err)
	assert.False(t, order.Status.Terminal())

	// a retry completes the refund
	refunded, err := rig.orc.RefundOrder(ctx, "ord-g", false)
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusRefunded, refunded.Status)
}

func TestCancelOrderBeforeFill(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-h"))
	require.NoError(t, err)

	// locks are active and the timelock has not passed
	_, err = rig.orc.CancelOrder(ctx, "ord-h")
	assert.ErrorIs(t, err, ErrTimelockNotPassed)

	// after a fill, cancel is off the table entirely
	secret, _, err := rig.store.RevealSecret("ord-h", 0)
	require.NoError(t, err)
	_, err = rig.orc.ClaimOrder(ctx, "ord-h", secret, nil, "resolver-1")
	require.NoError(t, err)

	_, err = rig.orc.CancelOrder(ctx, "ord-h")
	assert.ErrorIs(t, err, ErrCancelNotAllowed)
}

// Scenario D lives in eventbus tests as well; assert the end-to-end
// path here: a subscriber filtered to one order never sees the other.
func TestSubscriberFilterEndToEnd(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var got []*eventbus.EventMessage
	rig.bus.Subscribe(&eventbus.Filter{OrderIDs: []string{"ord-x"}},
		func(ev *eventbus.EventMessage) { got = append(got, ev) })

	_, err := rig.orc.CreateOrder(ctx, rig.params("ord-x"))
	require.NoError(t, err)
	_, err = rig.orc.CreateOrder(ctx, rig.params("ord-y"))
	require.NoError(t, err)

	require.NotEmpty(t, got)
	for _, ev := range got {
		assert.Equal(t, "ord-x", ev.Metadata.OrderID)
	}
}
