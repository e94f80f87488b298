package state

import (
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/common"
	"github.com/FusionX-io/bridge-go/merkle"
)

// Store is the single-writer front of the statedb. Every mutation of
// one order id goes through that order's mutex, so a resolver fill and
// a concurrent recovery refund can never interleave. Reads go straight
// to sqlite.
type Store struct {
	statedb *StateDB
	cfg     *Config

	mu        sync.Mutex
	orderLock map[string]*sync.Mutex

	// Now is the store clock; tests replace it to move time.
	Now func() time.Time
}

func NewStore(statedb *StateDB, cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{
		statedb:   statedb,
		cfg:       cfg,
		orderLock: make(map[string]*sync.Mutex),
		Now:       time.Now,
	}
}

func (s *Store) lockOrder(id string) func() {
	s.mu.Lock()
	m, ok := s.orderLock[id]
	if !ok {
		m = &sync.Mutex{}
		s.orderLock[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// CreateOrder validates params, generates the fragment secrets and the
// merkle commitment, and persists everything atomically. The returned
// order carries the computed hashlock; the caller locks funds against
// it afterwards.
func (s *Store) CreateOrder(params *CreateOrderParams) (*Order, []*Fragment, error) {
	if err := s.validate(params); err != nil {
		return nil, nil, err
	}

	count := params.FragmentCount
	if !params.AllowPartialFills || count < 1 {
		count = 1
	}

	secrets, err := merkle.GenerateSecrets(params.SrcAmount, count, params.FragmentPercents)
	if err != nil {
		return nil, nil, err
	}
	hashlock, err := merkle.Hashlock(secrets, params.AllowPartialFills)
	if err != nil {
		return nil, nil, err
	}
	if hashlock == (ethcommon.Hash{}) {
		return nil, nil, ErrHashlockInvalid
	}

	frags := make([]*Fragment, count)
	var proofs [][]ethcommon.Hash
	if count > 1 {
		leafHashes := make([]ethcommon.Hash, count)
		for i, sec := range secrets {
			leafHashes[i] = sec.SecretHash
		}
		tree, err := merkle.BuildTree(leafHashes)
		if err != nil {
			return nil, nil, err
		}
		proofs = make([][]ethcommon.Hash, count)
		for i := range leafHashes {
			p, err := tree.Proof(i)
			if err != nil {
				return nil, nil, err
			}
			proofs[i] = p
		}
	}

	for i, sec := range secrets {
		f := &Fragment{
			OrderID:    params.ID,
			Index:      i,
			Secret:     sec.Secret,
			SecretHash: sec.SecretHash,
			FillAmount: sec.FillAmount,
			Cumulative: sec.Cumulative,
			Status:     FragmentStatusPending,
		}
		if proofs != nil {
			f.Proof = proofs[i]
		}
		frags[i] = f
	}

	now := s.Now().UTC()
	order := &Order{
		ID:                params.ID,
		SrcChain:          params.SrcChain,
		DstChain:          params.DstChain,
		SrcAsset:          params.SrcAsset,
		SrcAmount:         common.BigIntClone(params.SrcAmount),
		DstAsset:          params.DstAsset,
		DstAmount:         common.BigIntClone(params.DstAmount),
		Hashlock:          hashlock,
		Timelock:          params.Timelock.UTC(),
		Sender:            params.Sender,
		Beneficiary:       params.Beneficiary,
		SrcRefundAddr:     params.SrcRefundAddr,
		DstRefundAddr:     params.DstRefundAddr,
		SafetyDeposit:     params.SafetyDeposit,
		AllowPartialFills: params.AllowPartialFills,
		FragmentCount:     count,
		Auction:           params.Auction,
		Status:            OrderStatusCreated,
		FilledAmount:      new(big.Int),
		RemainingAmount:   common.BigIntClone(params.SrcAmount),
		CreatedAt:         now,
	}

	unlock := s.lockOrder(order.ID)
	defer unlock()

	if err := s.statedb.InsertOrder(order, frags); err != nil {
		return nil, nil, err
	}

	logger.WithFields(logger.Fields{
		"order":     order.ID,
		"hashlock":  common.Shorten(hashlock.String(), 8),
		"fragments": count,
	}).Debug("order created")

	return order, frags, nil
}

func (s *Store) validate(params *CreateOrderParams) error {
	if params.SrcAmount == nil || params.SrcAmount.Sign() <= 0 ||
		params.DstAmount == nil || params.DstAmount.Sign() <= 0 {
		return ErrAmountInvalid
	}
	if params.SrcChain == "" || params.DstChain == "" {
		return ErrChainMissing
	}
	if params.Sender == "" || params.Beneficiary == "" {
		return ErrAddressMissing
	}

	now := s.Now()
	if params.Timelock.Before(now.Add(s.cfg.MinTimelockWindow)) ||
		params.Timelock.After(now.Add(s.cfg.MaxTimelockWindow)) {
		return ErrTimelockOutOfRange
	}

	if params.Auction != nil {
		if err := params.Auction.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetOrder(id string) (*Order, error) {
	return s.statedb.GetOrder(id)
}

func (s *Store) GetFragments(orderID string) ([]*Fragment, error) {
	return s.statedb.GetFragments(orderID)
}

func (s *Store) ListByStatus(statuses ...OrderStatus) ([]*Order, error) {
	return s.statedb.ListByStatus(statuses...)
}

func (s *Store) ListActive() ([]*Order, error) {
	return s.statedb.ListActive()
}

// checkFill runs the merkle progressive/cap validation against the
// current fragment set. Callers hold the order lock.
func (s *Store) checkFill(order *Order, frags []*Fragment, fragmentIndex int, amount *big.Int) (*Fragment, error) {
	if order.Status != OrderStatusBothActive && order.Status != OrderStatusPartiallyFilled {
		return nil, ErrOrderNotFillable
	}
	if fragmentIndex < 0 || fragmentIndex >= len(frags) {
		return nil, ErrFragmentNotFound
	}

	leaves := make([]*merkle.Leaf, len(frags))
	for i, f := range frags {
		leaves[i] = &merkle.Leaf{
			SecretHash: f.SecretHash,
			FillAmount: f.FillAmount,
			Cumulative: f.Cumulative,
			Filled:     f.Status == FragmentStatusFilled,
		}
	}

	frag := frags[fragmentIndex]
	if _, err := merkle.ValidatePartialFill(
		leaves, fragmentIndex, frag.SecretHash, amount, order.FilledAmount,
	); err != nil {
		return nil, err
	}
	return frag, nil
}

// BeginFill validates a fill attempt and reserves the fragment before
// anything touches a chain. A reserved fragment rejects concurrent
// claims with ErrFragmentBusy until the fill commits or aborts, so a
// rejected fill never reaches the adapters and one fragment never
// produces two on-chain claims.
func (s *Store) BeginFill(id string, fragmentIndex int, amount *big.Int) error {
	unlock := s.lockOrder(id)
	defer unlock()

	order, err := s.statedb.GetOrder(id)
	if err != nil {
		return err
	}
	frags, err := s.statedb.GetFragments(id)
	if err != nil {
		return err
	}
	if fragmentIndex >= 0 && fragmentIndex < len(frags) &&
		frags[fragmentIndex].Status == FragmentStatusClaiming {
		return ErrFragmentBusy
	}

	if _, err := s.checkFill(order, frags, fragmentIndex, amount); err != nil {
		return err
	}
	return s.statedb.UpdateFragmentStatus(id, fragmentIndex, FragmentStatusPending, FragmentStatusClaiming)
}

// AbortFill releases a reservation after a failed on-chain claim.
func (s *Store) AbortFill(id string, fragmentIndex int) error {
	unlock := s.lockOrder(id)
	defer unlock()

	err := s.statedb.UpdateFragmentStatus(id, fragmentIndex, FragmentStatusClaiming, FragmentStatusPending)
	if err == ErrFragmentNotFound {
		// never reserved, nothing to release
		return nil
	}
	return err
}

// ApplyFill commits one fragment fill. Rejections (wrong order status,
// already filled, out-of-order, cap exceeded) are typed errors and
// leave the store untouched.
func (s *Store) ApplyFill(id string, fragmentIndex int, amount *big.Int, resolver, fillTxHash string) (*Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	order, err := s.statedb.GetOrder(id)
	if err != nil {
		return nil, err
	}
	frags, err := s.statedb.GetFragments(id)
	if err != nil {
		return nil, err
	}
	frag, err := s.checkFill(order, frags, fragmentIndex, amount)
	if err != nil {
		return nil, err
	}

	frag.Status = FragmentStatusFilled
	frag.Resolver = resolver
	frag.FillTxHash = fillTxHash

	order.FilledAmount = new(big.Int).Add(order.FilledAmount, amount)
	order.RemainingAmount = new(big.Int).Sub(order.SrcAmount, order.FilledAmount)
	if order.RemainingAmount.Sign() == 0 {
		order.Status = OrderStatusCompleted
	} else {
		order.Status = OrderStatusPartiallyFilled
	}

	if err := s.statedb.applyFillTx(order, frag); err != nil {
		return nil, err
	}
	return order, nil
}

// SetStatus transitions the order. Terminal statuses are final.
func (s *Store) SetStatus(id string, status OrderStatus) (*Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	order, err := s.statedb.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, ErrOrderTerminal
	}
	if order.Status == status {
		return order, nil
	}
	if !order.Status.CanTransition(status) {
		return nil, ErrBadTransition
	}

	if err := s.statedb.UpdateOrderStatus(id, status); err != nil {
		return nil, err
	}
	if status == OrderStatusRefunded || status == OrderStatusExpired {
		if err := s.statedb.ExpireFragments(id); err != nil {
			return nil, err
		}
	}
	order.Status = status
	return order, nil
}

// RecordLocks stores the on-chain handles reported by the adapters.
func (s *Store) RecordLocks(id, srcID, srcTx, dstID, dstTx string) error {
	unlock := s.lockOrder(id)
	defer unlock()
	return s.statedb.UpdateOrderLocks(id, srcID, srcTx, dstID, dstTx)
}

// RevealSecret returns the pre-image for a fragment, gated on the
// progressive invariant: every fragment before index must already be
// filled and the fragment itself still pending. The second return is
// true on the first reveal only, so callers can announce the release
// exactly once.
func (s *Store) RevealSecret(orderID string, index int) ([32]byte, bool, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	frags, err := s.statedb.GetFragments(orderID)
	if err != nil {
		return [32]byte{}, false, err
	}
	if index < 0 || index >= len(frags) {
		return [32]byte{}, false, ErrFragmentNotFound
	}
	for i := 0; i < index; i++ {
		if frags[i].Status != FragmentStatusFilled {
			return [32]byte{}, false, ErrSecretNotReleasable
		}
	}
	if frags[index].Status != FragmentStatusPending {
		return [32]byte{}, false, ErrSecretNotReleasable
	}

	first := !frags[index].Revealed
	if first {
		if err := s.statedb.MarkFragmentRevealed(orderID, index); err != nil {
			return [32]byte{}, false, err
		}
	}
	return frags[index].Secret, first, nil
}
