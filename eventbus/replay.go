package eventbus

import (
	"context"
	"errors"
	"time"
)

var ErrBadReplaySpeed = errors.New("replay speed must be positive")

// Replay re-emits stored events inside [from, to] at speed times real
// pace (2.0 = twice as fast, 0 pauses between events are dropped when
// speed is very large). Runs on the caller's goroutine; independent of
// live traffic, meant for debugging and tests.
func (b *Bus) Replay(ctx context.Context, from, to time.Time, speed float64, fn Callback) error {
	if speed <= 0 {
		return ErrBadReplaySpeed
	}

	b.mu.Lock()
	events := b.history.snapshot()
	b.mu.Unlock()

	var prev time.Time
	for _, ev := range events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		if !prev.IsZero() {
			gap := time.Duration(float64(ev.Timestamp.Sub(prev)) / speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		prev = ev.Timestamp
		fn(ev)
	}
	return nil
}
