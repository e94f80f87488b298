package eventbus

// ring is a fixed-capacity event buffer; push evicts the oldest entry
// once full. Not safe on its own, the Bus holds the lock.
type ring struct {
	buf   []*EventMessage
	start int
	count int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]*EventMessage, capacity)}
}

func (r *ring) push(ev *EventMessage) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	// full: overwrite the oldest slot
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.count }

// snapshot returns the buffered events oldest-first.
func (r *ring) snapshot() []*EventMessage {
	out := make([]*EventMessage, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
