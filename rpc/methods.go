package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/common"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/state"
)

// session is the per-connection surface subscribe/unsubscribe act on.
// Plain HTTP calls have none; only websocket clients can hold a
// subscription.
type session interface {
	Subscribe(filter *eventbus.Filter) string
	Unsubscribe(id string) bool
}

type handlerFunc func(srv *Server, sess session, params json.RawMessage) (interface{}, *Error)

var methodTable map[string]handlerFunc

func init() {
	methodTable = map[string]handlerFunc{
		"ping":              handlePing,
		"getAllowedMethods": handleGetAllowedMethods,
		"getActiveOrders":   handleGetActiveOrders,
		"getOrderStatus":    handleGetOrderStatus,
		"getSecrets":        handleGetSecrets,
		"getEventHistory":   handleGetEventHistory,
		"getStatistics":     handleGetStatistics,
		"submitOrder":       handleSubmitOrder,
		"cancelOrder":       handleCancelOrder,
		"subscribe":         handleSubscribe,
		"unsubscribe":       handleUnsubscribe,
	}
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func decodeParams(params json.RawMessage, out interface{}) *Error {
	if len(params) == 0 {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(params, out); err != nil {
		return invalidParams("malformed params: " + err.Error())
	}
	return nil
}

// orderView is the wire shape for an order. Amounts travel as decimal
// strings; secrets never appear here.
type orderView struct {
	OrderID         string `json:"orderId"`
	SrcChain        string `json:"srcChain"`
	DstChain        string `json:"dstChain"`
	SrcAsset        string `json:"srcAsset"`
	SrcAmount       string `json:"srcAmount"`
	DstAsset        string `json:"dstAsset"`
	DstAmount       string `json:"dstAmount"`
	Hashlock        string `json:"hashlock"`
	Timelock        int64  `json:"timelock"`
	Sender          string `json:"sender"`
	Beneficiary     string `json:"beneficiary"`
	Status          string `json:"status"`
	AllowPartial    bool   `json:"allowPartialFills"`
	FragmentCount   int    `json:"fragmentCount"`
	FilledAmount    string `json:"filledAmount"`
	RemainingAmount string `json:"remainingAmount"`
	FillPercentage  int    `json:"fillPercentage"`
	SrcLockTxHash   string `json:"srcLockTxHash,omitempty"`
	DstLockTxHash   string `json:"dstLockTxHash,omitempty"`
	AuctionPrice    string `json:"auctionPrice,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
}

func viewOrder(o *state.Order) *orderView {
	v := &orderView{
		OrderID:         o.ID,
		SrcChain:        o.SrcChain,
		DstChain:        o.DstChain,
		SrcAsset:        o.SrcAsset,
		SrcAmount:       o.SrcAmount.String(),
		DstAsset:        o.DstAsset,
		DstAmount:       o.DstAmount.String(),
		Hashlock:        o.Hashlock.Hex(),
		Timelock:        o.Timelock.Unix(),
		Sender:          o.Sender,
		Beneficiary:     o.Beneficiary,
		Status:          string(o.Status),
		AllowPartial:    o.AllowPartialFills,
		FragmentCount:   o.FragmentCount,
		FilledAmount:    o.FilledAmount.String(),
		RemainingAmount: o.RemainingAmount.String(),
		FillPercentage:  o.FillPercentage(),
		SrcLockTxHash:   o.SrcLockTxHash,
		DstLockTxHash:   o.DstLockTxHash,
		CreatedAt:       o.CreatedAt.Unix(),
	}
	if o.Auction != nil {
		v.AuctionPrice = auction.PriceAt(o.Auction, time.Now()).String()
	}
	return v
}

type fragmentView struct {
	Index      int      `json:"index"`
	SecretHash string   `json:"secretHash"`
	FillAmount string   `json:"fillAmount"`
	Cumulative string   `json:"cumulative"`
	Status     string   `json:"status"`
	Resolver   string   `json:"resolver,omitempty"`
	FillTxHash string   `json:"fillTxHash,omitempty"`
	Proof      []string `json:"proof,omitempty"`
}

func viewFragment(f *state.Fragment) *fragmentView {
	proof := make([]string, 0, len(f.Proof))
	for _, h := range f.Proof {
		proof = append(proof, h.Hex())
	}
	return &fragmentView{
		Index:      f.Index,
		SecretHash: f.SecretHash.Hex(),
		FillAmount: f.FillAmount.String(),
		Cumulative: f.Cumulative.String(),
		Status:     string(f.Status),
		Resolver:   f.Resolver,
		FillTxHash: f.FillTxHash,
		Proof:      proof,
	}
}

func handlePing(_ *Server, _ session, _ json.RawMessage) (interface{}, *Error) {
	return "pong", nil
}

func handleGetAllowedMethods(_ *Server, _ session, _ json.RawMessage) (interface{}, *Error) {
	methods := make([]string, 0, len(methodTable))
	for name := range methodTable {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods, nil
}

type activeOrdersParams struct {
	Statuses []string `json:"statuses,omitempty"`
	SrcChain string   `json:"srcChain,omitempty"`
	DstChain string   `json:"dstChain,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

func handleGetActiveOrders(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	var p activeOrdersParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("malformed params: " + err.Error())
		}
	}

	var orders []*state.Order
	var err error
	if len(p.Statuses) > 0 {
		statuses := make([]state.OrderStatus, 0, len(p.Statuses))
		for _, raw := range p.Statuses {
			st := state.OrderStatus(raw)
			if !st.Valid() {
				return nil, invalidParams("unknown order status: " + raw)
			}
			statuses = append(statuses, st)
		}
		orders, err = srv.store.ListByStatus(statuses...)
	} else {
		orders, err = srv.store.ListActive()
	}
	if err != nil {
		return nil, mapError(err)
	}

	views := make([]*orderView, 0, len(orders))
	skipped := 0
	for _, o := range orders {
		if p.SrcChain != "" && o.SrcChain != p.SrcChain {
			continue
		}
		if p.DstChain != "" && o.DstChain != p.DstChain {
			continue
		}
		if skipped < p.Offset {
			skipped++
			continue
		}
		views = append(views, viewOrder(o))
		if p.Limit > 0 && len(views) >= p.Limit {
			break
		}
	}
	return map[string]interface{}{"orders": views}, nil
}

type orderIDParams struct {
	OrderID string `json:"orderId"`
}

func handleGetOrderStatus(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	var p orderIDParams
	if errResp := decodeParams(params, &p); errResp != nil {
		return nil, errResp
	}

	order, err := srv.store.GetOrder(p.OrderID)
	if err != nil {
		return nil, mapError(err)
	}
	frags, err := srv.store.GetFragments(p.OrderID)
	if err != nil {
		return nil, mapError(err)
	}

	views := make([]*fragmentView, 0, len(frags))
	for _, f := range frags {
		views = append(views, viewFragment(f))
	}
	return map[string]interface{}{
		"order":     viewOrder(order),
		"fragments": views,
	}, nil
}

type getSecretsParams struct {
	OrderID         string `json:"orderId"`
	SecretIndex     *int   `json:"secretIndex,omitempty"`
	IncludeRevealed bool   `json:"includeRevealed,omitempty"`
}

// handleGetSecrets reveals the pre-images a resolver may use right now:
// for each fragment, only once every earlier fragment has been filled.
// secretIndex narrows the reply to one fragment; includeRevealed also
// returns pre-images that already left the coordinator (they are public
// the moment a claim lands on chain). This is the only place a raw
// secret ever leaves the coordinator, and SecretShared is announced
// once per fragment, on its first reveal.
func handleGetSecrets(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	var p getSecretsParams
	if errResp := decodeParams(params, &p); errResp != nil {
		return nil, errResp
	}

	frags, err := srv.store.GetFragments(p.OrderID)
	if err != nil {
		return nil, mapError(err)
	}
	if len(frags) == 0 {
		return nil, mapError(state.ErrOrderNotFound)
	}
	if p.SecretIndex != nil {
		idx := *p.SecretIndex
		if idx < 0 || idx >= len(frags) {
			return nil, mapError(state.ErrFragmentNotFound)
		}
		frags = frags[idx : idx+1]
	}

	type secretView struct {
		Index      int      `json:"index"`
		Secret     string   `json:"secret"`
		SecretHash string   `json:"secretHash"`
		Proof      []string `json:"proof,omitempty"`
	}

	view := func(f *state.Fragment, secret [32]byte) secretView {
		return secretView{
			Index:      f.Index,
			Secret:     common.Prepend0xPrefix(common.ByteSliceToPureHexStr(secret[:])),
			SecretHash: f.SecretHash.Hex(),
			Proof:      viewFragment(f).Proof,
		}
	}

	secrets := make([]secretView, 0, 1)
	for _, f := range frags {
		secret, first, err := srv.store.RevealSecret(p.OrderID, f.Index)
		if err != nil {
			if p.IncludeRevealed && f.Revealed {
				secrets = append(secrets, view(f, f.Secret))
				continue
			}
			if p.SecretIndex != nil {
				return nil, mapError(err)
			}
			continue
		}
		secrets = append(secrets, view(f, secret))
		if first {
			srv.bus.Publish(eventbus.SecretSharedPayload{
				OrderID:       p.OrderID,
				FragmentIndex: f.Index,
				SecretHash:    f.SecretHash.Hex(),
			}, eventbus.Metadata{OrderID: p.OrderID})
		}
	}
	return map[string]interface{}{"secrets": secrets}, nil
}

type eventHistoryParams struct {
	Events      []string `json:"events,omitempty"`
	OrderHashes []string `json:"orderHashes,omitempty"`
	Resolvers   []string `json:"resolvers,omitempty"`
	ChainIDs    []string `json:"chainIds,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty"`
}

func (p *eventHistoryParams) filter() (*eventbus.Filter, *Error) {
	f := &eventbus.Filter{
		OrderIDs:  p.OrderHashes,
		Resolvers: p.Resolvers,
		ChainIDs:  p.ChainIDs,
	}
	for _, raw := range p.Events {
		t := eventbus.EventType(raw)
		if !t.Valid() {
			return nil, invalidParams("unknown event type: " + raw)
		}
		f.Types = append(f.Types, t)
	}
	return f, nil
}

func handleGetEventHistory(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	p := eventHistoryParams{Limit: 50}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("malformed params: " + err.Error())
		}
	}

	filter, errResp := p.filter()
	if errResp != nil {
		return nil, errResp
	}

	events := srv.bus.Query(filter, p.Limit, p.Offset)
	return map[string]interface{}{"events": events}, nil
}

func handleGetStatistics(srv *Server, _ session, _ json.RawMessage) (interface{}, *Error) {
	stats := srv.bus.Stats()

	byStatus := map[string]int{}
	statuses := []state.OrderStatus{
		state.OrderStatusCreated, state.OrderStatusEthereumPending,
		state.OrderStatusStellarPending, state.OrderStatusBothActive,
		state.OrderStatusPartiallyFilled, state.OrderStatusCompleted,
		state.OrderStatusRefunded, state.OrderStatusFailed,
		state.OrderStatusExpired,
	}
	for _, st := range statuses {
		orders, err := srv.store.ListByStatus(st)
		if err != nil {
			return nil, mapError(err)
		}
		if len(orders) > 0 {
			byStatus[string(st)] = len(orders)
		}
	}

	return map[string]interface{}{
		"events": stats,
		"orders": byStatus,
	}, nil
}

type submitOrderParams struct {
	OrderID           string         `json:"orderId"`
	SrcChain          string         `json:"srcChain"`
	DstChain          string         `json:"dstChain"`
	SrcAsset          string         `json:"srcAsset"`
	SrcAmount         string         `json:"srcAmount"`
	DstAsset          string         `json:"dstAsset"`
	DstAmount         string         `json:"dstAmount"`
	Timelock          int64          `json:"timelock"`
	Sender            string         `json:"sender"`
	Beneficiary       string         `json:"beneficiary"`
	SrcRefundAddr     string         `json:"srcRefundAddr,omitempty"`
	DstRefundAddr     string         `json:"dstRefundAddr,omitempty"`
	SafetyDeposit     string         `json:"safetyDeposit,omitempty"`
	AllowPartialFills bool           `json:"allowPartialFills"`
	FragmentCount     int            `json:"fragmentCount,omitempty"`
	FragmentPercents  []int          `json:"fragmentPercents,omitempty"`
	Auction           *auctionParams `json:"auction,omitempty"`
}

// auctionParams is the wire shape of a dutch-auction curve. Durations
// and delays travel as seconds, prices as decimal strings.
type auctionParams struct {
	StartTime       int64  `json:"startTime,omitempty"` // unix, defaults to submission time
	Duration        int64  `json:"duration"`
	InitialPrice    string `json:"initialPrice"`
	EndPrice        string `json:"endPrice"`
	InitialRateBump string `json:"initialRateBump,omitempty"`
	Points          []struct {
		Delay       int64  `json:"delay"`
		Coefficient string `json:"coefficient"`
	} `json:"points,omitempty"`
}

func (p *auctionParams) config() (*auction.Config, *Error) {
	initial, err := decimal.NewFromString(p.InitialPrice)
	if err != nil {
		return nil, invalidParams("auction initialPrice must be a decimal string")
	}
	end, err := decimal.NewFromString(p.EndPrice)
	if err != nil {
		return nil, invalidParams("auction endPrice must be a decimal string")
	}
	bump := decimal.Zero
	if p.InitialRateBump != "" {
		if bump, err = decimal.NewFromString(p.InitialRateBump); err != nil {
			return nil, invalidParams("auction initialRateBump must be a decimal string")
		}
	}

	cfg := &auction.Config{
		StartTime:       time.Now().UTC(),
		Duration:        time.Duration(p.Duration) * time.Second,
		InitialPrice:    initial,
		EndPrice:        end,
		InitialRateBump: bump,
	}
	if p.StartTime > 0 {
		cfg.StartTime = time.Unix(p.StartTime, 0).UTC()
	}
	for _, pt := range p.Points {
		coeff, err := decimal.NewFromString(pt.Coefficient)
		if err != nil {
			return nil, invalidParams("auction point coefficient must be a decimal string")
		}
		cfg.Points = append(cfg.Points, auction.CurvePoint{
			Delay:       time.Duration(pt.Delay) * time.Second,
			Coefficient: coeff,
		})
	}
	return cfg, nil
}

func handleSubmitOrder(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	var p submitOrderParams
	if errResp := decodeParams(params, &p); errResp != nil {
		return nil, errResp
	}

	srcAmount := common.DecStrToBigInt(p.SrcAmount)
	dstAmount := common.DecStrToBigInt(p.DstAmount)
	if srcAmount == nil || dstAmount == nil {
		return nil, invalidParams("amounts must be decimal strings")
	}

	create := &state.CreateOrderParams{
		ID:                p.OrderID,
		SrcChain:          p.SrcChain,
		DstChain:          p.DstChain,
		SrcAsset:          p.SrcAsset,
		SrcAmount:         srcAmount,
		DstAsset:          p.DstAsset,
		DstAmount:         dstAmount,
		Timelock:          time.Unix(p.Timelock, 0).UTC(),
		Sender:            p.Sender,
		Beneficiary:       p.Beneficiary,
		SrcRefundAddr:     p.SrcRefundAddr,
		DstRefundAddr:     p.DstRefundAddr,
		AllowPartialFills: p.AllowPartialFills,
		FragmentCount:     p.FragmentCount,
		FragmentPercents:  p.FragmentPercents,
	}
	if p.SafetyDeposit != "" {
		create.SafetyDeposit = common.DecStrToBigInt(p.SafetyDeposit)
	}
	if create.FragmentCount == 0 {
		create.FragmentCount = 1
	}
	if p.Auction != nil {
		cfg, errResp := p.Auction.config()
		if errResp != nil {
			return nil, errResp
		}
		create.Auction = cfg
	}

	order, err := srv.orc.CreateOrder(context.Background(), create)
	if err != nil {
		return nil, mapError(err)
	}
	return viewOrder(order), nil
}

func handleCancelOrder(srv *Server, _ session, params json.RawMessage) (interface{}, *Error) {
	var p orderIDParams
	if errResp := decodeParams(params, &p); errResp != nil {
		return nil, errResp
	}

	order, err := srv.orc.CancelOrder(context.Background(), p.OrderID)
	if err != nil {
		return nil, mapError(err)
	}
	return viewOrder(order), nil
}

type subscribeParams struct {
	eventHistoryParams
}

func handleSubscribe(_ *Server, sess session, params json.RawMessage) (interface{}, *Error) {
	if sess == nil {
		return nil, invalidParams("subscribe requires a websocket connection")
	}

	p := subscribeParams{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("malformed params: " + err.Error())
		}
	}
	filter, errResp := p.filter()
	if errResp != nil {
		return nil, errResp
	}

	return map[string]string{"subscriptionId": sess.Subscribe(filter)}, nil
}

type unsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

func handleUnsubscribe(_ *Server, sess session, params json.RawMessage) (interface{}, *Error) {
	if sess == nil {
		return nil, invalidParams("unsubscribe requires a websocket connection")
	}

	var p unsubscribeParams
	if errResp := decodeParams(params, &p); errResp != nil {
		return nil, errResp
	}
	return map[string]bool{"removed": sess.Unsubscribe(p.SubscriptionID)}, nil
}
