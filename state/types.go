package state

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/FusionX-io/bridge-go/auction"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"          // accepted, nothing locked yet
	OrderStatusEthereumPending OrderStatus = "ETHEREUM_PENDING" // EVM lock sent
	OrderStatusStellarPending  OrderStatus = "STELLAR_PENDING"  // EVM locked, stellar lock sent
	OrderStatusBothActive      OrderStatus = "BOTH_ACTIVE"      // both sides locked, fillable
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusRefunded        OrderStatus = "REFUNDED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal statuses are never left again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusEthereumPending, OrderStatusStellarPending,
		OrderStatusBothActive, OrderStatusPartiallyFilled, OrderStatusCompleted,
		OrderStatusRefunded, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// legal lifecycle steps; fill transitions (BOTH_ACTIVE/PARTIALLY_FILLED
// to PARTIALLY_FILLED/COMPLETED) go through ApplyFill, everything else
// through SetStatus
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusEthereumPending, OrderStatusExpired, OrderStatusFailed},
	OrderStatusEthereumPending: {OrderStatusStellarPending, OrderStatusExpired, OrderStatusFailed},
	OrderStatusStellarPending:  {OrderStatusBothActive, OrderStatusExpired, OrderStatusFailed},
	OrderStatusBothActive:      {OrderStatusPartiallyFilled, OrderStatusCompleted, OrderStatusExpired, OrderStatusRefunded, OrderStatusFailed},
	OrderStatusPartiallyFilled: {OrderStatusCompleted, OrderStatusExpired, OrderStatusRefunded, OrderStatusFailed},
	OrderStatusExpired:         {OrderStatusRefunded, OrderStatusFailed},
}

// CanTransition reports whether moving to next is a legal lifecycle
// step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

type FragmentStatus string

const (
	FragmentStatusPending  FragmentStatus = "pending"
	FragmentStatusClaiming FragmentStatus = "claiming" // reserved, on-chain claim in flight
	FragmentStatusFilled   FragmentStatus = "filled"
	FragmentStatusExpired  FragmentStatus = "expired"
)

// Order is one cross-chain swap intent. Owned by the statedb; mutated
// only through the Store so per-order writes stay serialized.
type Order struct {
	ID       string
	SrcChain string // e.g. "ethereum"
	DstChain string // e.g. "stellar"

	SrcAsset  string
	SrcAmount *big.Int
	DstAsset  string
	DstAmount *big.Int

	Hashlock ethcommon.Hash // merkle root, or leaf 0 when partial fills are off
	Timelock time.Time

	Sender        string // source-chain locker
	Beneficiary   string // destination-chain receiver
	SrcRefundAddr string
	DstRefundAddr string

	SafetyDeposit     *big.Int
	AllowPartialFills bool
	FragmentCount     int

	// optional dutch-auction pricing curve, immutable once attached
	Auction *auction.Config

	Status          OrderStatus
	FilledAmount    *big.Int
	RemainingAmount *big.Int

	// populated once the chain adapters report their locks
	SrcOnchainID  string
	DstOnchainID  string
	SrcLockTxHash string
	DstLockTxHash string

	CreatedAt time.Time
}

// FillPercentage reports filled/src in whole percent, 0 for a zero
// amount order (cannot happen past validation).
func (o *Order) FillPercentage() int {
	if o.SrcAmount == nil || o.SrcAmount.Sign() == 0 {
		return 0
	}
	p := new(big.Int).Mul(o.FilledAmount, big.NewInt(100))
	p.Div(p, o.SrcAmount)
	return int(p.Int64())
}

// Fragment is one fillable slice of an order. Immutable after creation
// except Status/Resolver/FillTxHash.
type Fragment struct {
	OrderID    string
	Index      int
	Secret     [32]byte // pre-image at rest, guarded by Store.RevealSecret
	SecretHash ethcommon.Hash
	FillAmount *big.Int
	Cumulative *big.Int
	Proof      []ethcommon.Hash
	Status     FragmentStatus
	Revealed   bool // pre-image handed out at least once
	Resolver   string
	FillTxHash string
}

// CreateOrderParams is the validated input to Store.CreateOrder.
type CreateOrderParams struct {
	ID       string
	SrcChain string
	DstChain string

	SrcAsset  string
	SrcAmount *big.Int
	DstAsset  string
	DstAmount *big.Int

	Timelock time.Time

	Sender        string
	Beneficiary   string
	SrcRefundAddr string
	DstRefundAddr string

	SafetyDeposit     *big.Int
	AllowPartialFills bool
	FragmentCount     int
	FragmentPercents  []int // optional, must sum to 100

	Auction *auction.Config // optional
}
