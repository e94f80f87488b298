package eventbus

import (
	"time"
)

// EventType is a closed enum; the transport rejects anything else.
type EventType string

const (
	EventOrderCreated            EventType = "order_created"
	EventOrderFilled             EventType = "order_filled"
	EventOrderFilledPartially    EventType = "order_filled_partially"
	EventOrderCancelled          EventType = "order_cancelled"
	EventOrderInvalid            EventType = "order_invalid"
	EventOrderBalanceChange      EventType = "order_balance_change"
	EventOrderAllowanceChange    EventType = "order_allowance_change"
	EventSecretShared            EventType = "secret_shared"
	EventProgressUpdate          EventType = "progress_update"
	EventRecommendationGenerated EventType = "recommendation_generated"
	EventFragmentReady           EventType = "fragment_ready"
)

// AllEventTypes lists the closed enum, in a stable order.
var AllEventTypes = []EventType{
	EventOrderCreated,
	EventOrderFilled,
	EventOrderFilledPartially,
	EventOrderCancelled,
	EventOrderInvalid,
	EventOrderBalanceChange,
	EventOrderAllowanceChange,
	EventSecretShared,
	EventProgressUpdate,
	EventRecommendationGenerated,
	EventFragmentReady,
}

func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata travels with every event and drives subscriber filtering.
type Metadata struct {
	OrderID  string `json:"orderId,omitempty"`
	Resolver string `json:"resolver,omitempty"`
	ChainID  string `json:"chainId,omitempty"`
	Urgent   bool   `json:"urgent,omitempty"`
}

// EventMessage is immutable once published. Subscribers receive the
// same pointer but the payload structs are value types; nothing in the
// callback path can reach coordinator state.
type EventMessage struct {
	ID        string    `json:"id"`
	Type      EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"data"`
	Metadata  Metadata  `json:"metadata"`
}

// Filter matches on event-type membership AND, when the respective set
// is non-empty, order-id / resolver / chain-id membership.
type Filter struct {
	Types     []EventType `json:"events,omitempty"`
	OrderIDs  []string    `json:"orderHashes,omitempty"`
	Resolvers []string    `json:"resolvers,omitempty"`
	ChainIDs  []string    `json:"chainIds,omitempty"`
}

func (f *Filter) Matches(ev *EventMessage) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
		return false
	}
	if len(f.OrderIDs) > 0 && !containsStr(f.OrderIDs, ev.Metadata.OrderID) {
		return false
	}
	if len(f.Resolvers) > 0 && !containsStr(f.Resolvers, ev.Metadata.Resolver) {
		return false
	}
	if len(f.ChainIDs) > 0 && !containsStr(f.ChainIDs, ev.Metadata.ChainID) {
		return false
	}
	return true
}

func containsType(set []EventType, t EventType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func containsStr(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
