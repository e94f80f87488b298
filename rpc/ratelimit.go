package rpc

import (
	"sync"
	"time"
)

// slidingWindow counts calls per client inside a rolling window. Excess
// calls are rejected on the spot, never queued.
type slidingWindow struct {
	window time.Duration
	limit  int

	mu    sync.Mutex
	calls map[string][]time.Time

	// Now is the limiter clock, swappable in tests.
	Now func() time.Time
}

func newSlidingWindow(window time.Duration, limit int) *slidingWindow {
	return &slidingWindow{
		window: window,
		limit:  limit,
		calls:  make(map[string][]time.Time),
		Now:    time.Now,
	}
}

// Allow records the call and reports whether the client is inside its
// budget.
func (sw *slidingWindow) Allow(client string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.Now()
	cutoff := now.Add(-sw.window)

	kept := sw.calls[client][:0]
	for _, ts := range sw.calls[client] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= sw.limit {
		sw.calls[client] = kept
		return false
	}
	sw.calls[client] = append(kept, now)
	return true
}
