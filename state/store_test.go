package state

import (
	"database/sql"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/merkle"
)

func getMemoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, func()) {
	sqlDB := getMemoryDB(t)
	statedb, err := NewStateDB(sqlDB)
	require.NoError(t, err)

	store := NewStore(statedb, DefaultConfig())
	return store, func() {
		statedb.Close()
		sqlDB.Close()
	}
}

func validParams(id string) *CreateOrderParams {
	return &CreateOrderParams{
		ID:                id,
		SrcChain:          "ethereum",
		DstChain:          "stellar",
		SrcAsset:          "0x00000000000000000000000000000000000000aa",
		SrcAmount:         big.NewInt(1000),
		DstAsset:          "USDC:GAXX",
		DstAmount:         big.NewInt(995),
		Timelock:          time.Now().Add(2 * time.Hour),
		Sender:            "0x1111111111111111111111111111111111111111",
		Beneficiary:       "GBENEFICIARY",
		SrcRefundAddr:     "0x1111111111111111111111111111111111111111",
		DstRefundAddr:     "GREFUND",
		AllowPartialFills: true,
		FragmentCount:     5,
	}
}

// activate walks an order through the lock pipeline to BOTH_ACTIVE.
func activate(t *testing.T, store *Store, id string) {
	t.Helper()
	for _, st := range []OrderStatus{OrderStatusEthereumPending, OrderStatusStellarPending, OrderStatusBothActive} {
		_, err := store.SetStatus(id, st)
		require.NoError(t, err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	p := validParams("ord-1")
	p.SrcAmount = big.NewInt(0)
	_, _, err := store.CreateOrder(p)
	assert.ErrorIs(t, err, ErrAmountInvalid)

	p = validParams("ord-1")
	p.Timelock = time.Now().Add(time.Minute)
	_, _, err = store.CreateOrder(p)
	assert.ErrorIs(t, err, ErrTimelockOutOfRange)

	p = validParams("ord-1")
	p.Timelock = time.Now().Add(30 * 24 * time.Hour)
	_, _, err = store.CreateOrder(p)
	assert.ErrorIs(t, err, ErrTimelockOutOfRange)

	p = validParams("ord-1")
	p.Sender = ""
	_, _, err = store.CreateOrder(p)
	assert.ErrorIs(t, err, ErrAddressMissing)

	_, _, err = store.CreateOrder(validParams("ord-1"))
	require.NoError(t, err)
	_, _, err = store.CreateOrder(validParams("ord-1"))
	assert.ErrorIs(t, err, ErrOrderExists)
}

func TestCreateOrderHashlockMatchesTree(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	order, frags, err := store.CreateOrder(validParams("ord-tree"))
	require.NoError(t, err)
	require.Len(t, frags, 5)

	// rebuild the tree independently from the persisted fragments
	stored, err := store.GetOrder("ord-tree")
	require.NoError(t, err)
	storedFrags, err := store.GetFragments("ord-tree")
	require.NoError(t, err)

	leaves := make([]ethcommon.Hash, len(storedFrags))
	for i, f := range storedFrags {
		leaves[i] = f.SecretHash
	}
	tree, err := merkle.BuildTree(leaves)
	require.NoError(t, err)

	assert.Equal(t, tree.Root(), stored.Hashlock)
	assert.Equal(t, order.Hashlock, stored.Hashlock)

	// persisted proofs must verify against the committed root
	for i, f := range storedFrags {
		assert.True(t, merkle.VerifyProof(i, f.SecretHash, f.Proof, stored.Hashlock))
	}
}

func TestCreateOrderSingleFill(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	p := validParams("ord-single")
	p.AllowPartialFills = false
	p.FragmentCount = 5 // ignored without partial fills

	order, frags, err := store.CreateOrder(p)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, frags[0].SecretHash, order.Hashlock)
}

func TestApplyFillProgressive(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-fill"))
	require.NoError(t, err)
	activate(t, store, "ord-fill")

	// out-of-order fill is rejected and mutates nothing
	_, err = store.ApplyFill("ord-fill", 2, big.NewInt(200), "resolver-a", "0xtx")
	assert.ErrorIs(t, err, merkle.ErrPriorFragmentUnfilled)

	order, err := store.GetOrder("ord-fill")
	require.NoError(t, err)
	assert.Equal(t, int64(0), order.FilledAmount.Int64())
	assert.Equal(t, OrderStatusBothActive, order.Status)

	// fragment 0 fills fine
	order, err = store.ApplyFill("ord-fill", 0, big.NewInt(200), "resolver-a", "0xtx0")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPartiallyFilled, order.Status)
	assert.Equal(t, int64(200), order.FilledAmount.Int64())
	assert.Equal(t, int64(800), order.RemainingAmount.Int64())
	assert.Equal(t, 20, order.FillPercentage())

	// refill is rejected
	_, err = store.ApplyFill("ord-fill", 0, big.NewInt(200), "resolver-b", "0xtx0b")
	assert.ErrorIs(t, err, merkle.ErrFragmentAlreadyFilled)

	// over-cap fill is rejected
	_, err = store.ApplyFill("ord-fill", 1, big.NewInt(500), "resolver-a", "0xtx1")
	assert.ErrorIs(t, err, merkle.ErrExceedsCumulativeCap)

	// fill the rest sequentially
	for i := 1; i < 5; i++ {
		order, err = store.ApplyFill("ord-fill", i, big.NewInt(200), "resolver-a", "0xtx")
		require.NoError(t, err)
	}
	assert.Equal(t, OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(0), order.RemainingAmount.Int64())

	// terminal orders reject further fills
	_, err = store.ApplyFill("ord-fill", 4, big.NewInt(1), "resolver-a", "0xtx")
	assert.ErrorIs(t, err, ErrOrderNotFillable)
}

func TestRevealSecretProgressive(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, frags, err := store.CreateOrder(validParams("ord-secret"))
	require.NoError(t, err)
	activate(t, store, "ord-secret")

	// fragment 0 is releasable immediately
	secret, first, err := store.RevealSecret("ord-secret", 0)
	require.NoError(t, err)
	assert.Equal(t, frags[0].Secret, secret)
	assert.True(t, first)

	// fragment 1 is gated until fragment 0 is filled
	_, _, err = store.RevealSecret("ord-secret", 1)
	assert.ErrorIs(t, err, ErrSecretNotReleasable)

	_, err = store.ApplyFill("ord-secret", 0, big.NewInt(200), "resolver-a", "0xtx")
	require.NoError(t, err)

	secret, first, err = store.RevealSecret("ord-secret", 1)
	require.NoError(t, err)
	assert.Equal(t, frags[1].Secret, secret)
	assert.True(t, first)

	// a filled fragment's secret is no longer releasable
	_, _, err = store.RevealSecret("ord-secret", 0)
	assert.ErrorIs(t, err, ErrSecretNotReleasable)
}

func TestRevealSecretFirstOnce(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-reveal"))
	require.NoError(t, err)
	activate(t, store, "ord-reveal")

	_, first, err := store.RevealSecret("ord-reveal", 0)
	require.NoError(t, err)
	assert.True(t, first)

	// repeat reveals hand out the same secret but report not-first
	_, first, err = store.RevealSecret("ord-reveal", 0)
	require.NoError(t, err)
	assert.False(t, first)

	frags, err := store.GetFragments("ord-reveal")
	require.NoError(t, err)
	assert.True(t, frags[0].Revealed)
	assert.False(t, frags[1].Revealed)
}

func TestBeginFillReservation(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-resv"))
	require.NoError(t, err)
	activate(t, store, "ord-resv")

	require.NoError(t, store.BeginFill("ord-resv", 0, big.NewInt(200)))

	// a second claim on the reserved fragment is refused
	err = store.BeginFill("ord-resv", 0, big.NewInt(200))
	assert.ErrorIs(t, err, ErrFragmentBusy)

	// the reservation does not count as filled, fragment 1 stays gated
	err = store.BeginFill("ord-resv", 1, big.NewInt(200))
	assert.ErrorIs(t, err, merkle.ErrPriorFragmentUnfilled)

	// abort releases it for another attempt
	require.NoError(t, store.AbortFill("ord-resv", 0))
	require.NoError(t, store.BeginFill("ord-resv", 0, big.NewInt(200)))

	// commit goes through on a reserved fragment
	order, err := store.ApplyFill("ord-resv", 0, big.NewInt(200), "resolver-a", "0xtx")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPartiallyFilled, order.Status)

	// aborting a never-reserved fragment is a no-op
	require.NoError(t, store.AbortFill("ord-resv", 1))
}

func TestBeginFillRejectsBeforeValidation(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-resv2"))
	require.NoError(t, err)

	// not fillable yet
	err = store.BeginFill("ord-resv2", 0, big.NewInt(200))
	assert.ErrorIs(t, err, ErrOrderNotFillable)

	activate(t, store, "ord-resv2")

	// out-of-order and over-cap attempts never reserve anything
	err = store.BeginFill("ord-resv2", 2, big.NewInt(200))
	assert.ErrorIs(t, err, merkle.ErrPriorFragmentUnfilled)
	err = store.BeginFill("ord-resv2", 0, big.NewInt(500))
	assert.ErrorIs(t, err, merkle.ErrExceedsCumulativeCap)

	frags, err := store.GetFragments("ord-resv2")
	require.NoError(t, err)
	for _, f := range frags {
		assert.Equal(t, FragmentStatusPending, f.Status)
	}
}

func TestSetStatusTerminal(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-status"))
	require.NoError(t, err)

	_, err = store.SetStatus("ord-status", OrderStatusFailed)
	require.NoError(t, err)

	_, err = store.SetStatus("ord-status", OrderStatusBothActive)
	assert.ErrorIs(t, err, ErrOrderTerminal)
}

func TestSetStatusTransitions(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-trans"))
	require.NoError(t, err)

	// skipping the lock pipeline is not a legal step
	_, err = store.SetStatus("ord-trans", OrderStatusBothActive)
	assert.ErrorIs(t, err, ErrBadTransition)
	_, err = store.SetStatus("ord-trans", OrderStatusCompleted)
	assert.ErrorIs(t, err, ErrBadTransition)

	activate(t, store, "ord-trans")

	// active orders can expire, expired orders can refund
	_, err = store.SetStatus("ord-trans", OrderStatusExpired)
	require.NoError(t, err)
	order, err := store.SetStatus("ord-trans", OrderStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusRefunded, order.Status)
}

func TestCreateOrderAuctionRoundTrip(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	p := validParams("ord-auction")
	p.Auction = &auction.Config{
		StartTime:       time.Unix(1_700_000_000, 0).UTC(),
		Duration:        2 * time.Minute,
		InitialPrice:    decimal.NewFromInt(100),
		EndPrice:        decimal.NewFromInt(90),
		InitialRateBump: decimal.NewFromFloat(0.05),
		Points: []auction.CurvePoint{
			{Delay: time.Minute, Coefficient: decimal.NewFromFloat(0.5)},
		},
	}
	_, _, err := store.CreateOrder(p)
	require.NoError(t, err)

	stored, err := store.GetOrder("ord-auction")
	require.NoError(t, err)
	require.NotNil(t, stored.Auction)
	assert.True(t, stored.Auction.InitialPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, stored.Auction.EndPrice.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 2*time.Minute, stored.Auction.Duration)
	require.Len(t, stored.Auction.Points, 1)
	assert.Equal(t, time.Minute, stored.Auction.Points[0].Delay)

	// an order without an auction stays nil
	_, _, err = store.CreateOrder(validParams("ord-noauction"))
	require.NoError(t, err)
	plain, err := store.GetOrder("ord-noauction")
	require.NoError(t, err)
	assert.Nil(t, plain.Auction)
}

func TestCreateOrderAuctionInvalid(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	p := validParams("ord-badauction")
	p.Auction = &auction.Config{
		StartTime:    time.Unix(1_700_000_000, 0).UTC(),
		Duration:     2 * time.Minute,
		InitialPrice: decimal.NewFromInt(90),
		EndPrice:     decimal.NewFromInt(100),
	}
	_, _, err := store.CreateOrder(p)
	assert.ErrorIs(t, err, auction.ErrBadPriceBounds)
}

func TestListByStatus(t *testing.T) {
	store, done := newTestStore(t)
	defer done()

	_, _, err := store.CreateOrder(validParams("ord-a"))
	require.NoError(t, err)
	_, _, err = store.CreateOrder(validParams("ord-b"))
	require.NoError(t, err)
	_, err = store.SetStatus("ord-b", OrderStatusFailed)
	require.NoError(t, err)

	created, err := store.ListByStatus(OrderStatusCreated)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "ord-a", created[0].ID)

	active, err := store.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ord-a", active[0].ID)
}
