package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

type Config struct {
	// HistorySize bounds the in-memory ring; oldest events are evicted
	// first.
	HistorySize int
}

func DefaultConfig() *Config {
	return &Config{HistorySize: 4096}
}

type Callback func(*EventMessage)

type subscriber struct {
	id     string
	filter *Filter
	fn     Callback
}

// Bus is the coordinator's pub/sub fan-out. One instance is built at
// process start and passed to every component that publishes or
// subscribes; there is no package-level singleton.
//
// Delivery is synchronous and preserves publish order per subscriber.
// A failing subscriber is logged and skipped, never allowed to block
// the rest.
type Bus struct {
	cfg *Config

	mu      sync.Mutex
	subs    map[string]*subscriber
	history *ring
	counts  map[EventType]int
	urgent  int

	// Now is the bus clock, swappable in tests.
	Now func() time.Time
}

func New(cfg *Config) *Bus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Bus{
		cfg:     cfg,
		subs:    make(map[string]*subscriber),
		history: newRing(cfg.HistorySize),
		counts:  make(map[EventType]int),
		Now:     time.Now,
	}
}

// Publish appends the event to history and fans it out to every
// matching subscriber. Returns the stored message.
func (b *Bus) Publish(payload Payload, meta Metadata) *EventMessage {
	ev := &EventMessage{
		ID:        uuid.NewString(),
		Type:      payload.EventType(),
		Timestamp: b.Now().UTC(),
		Payload:   payload,
		Metadata:  meta,
	}

	b.mu.Lock()
	b.history.push(ev)
	b.counts[ev.Type]++
	if meta.Urgent {
		b.urgent++
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}
	return ev
}

func (b *Bus) deliver(sub *subscriber, ev *EventMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logger.Fields{
				"subscription": sub.id,
				"event":        string(ev.Type),
			}).Errorf("subscriber callback panicked: %v", r)
		}
	}()
	sub.fn(ev)
}

// Subscribe registers a callback; returns the subscription id.
func (b *Bus) Subscribe(filter *Filter, fn Callback) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = &subscriber{id: id, filter: filter, fn: fn}
	b.mu.Unlock()
	return id
}

func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// Query replays matching events from history, oldest first, with the
// exact filter semantics of live delivery. Clients reconcile missed
// events by timestamp.
func (b *Bus) Query(filter *Filter, limit, offset int) []*EventMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*EventMessage
	skipped := 0
	for _, ev := range b.history.snapshot() {
		if !filter.Matches(ev) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Timeline returns every stored event of one order, chronological.
func (b *Bus) Timeline(orderID string) []*EventMessage {
	return b.Query(&Filter{OrderIDs: []string{orderID}}, 0, 0)
}

// Stats summarizes the stored history.
type Stats struct {
	Total   int               `json:"total"`
	Urgent  int               `json:"urgent"`
	ByType  map[EventType]int `json:"byType"`
	History int               `json:"historySize"`
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	byType := make(map[EventType]int, len(b.counts))
	total := 0
	for t, n := range b.counts {
		byType[t] = n
		total += n
	}
	return Stats{
		Total:   total,
		Urgent:  b.urgent,
		ByType:  byType,
		History: b.history.len(),
	}
}
