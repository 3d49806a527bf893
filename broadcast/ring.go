package broadcast

// ring is a fixed-capacity circular buffer of events, oldest first.
// Not safe for concurrent use; the Broadcaster serializes access.
type ring struct {
	buf  []Event
	head int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

// push appends an event, evicting the oldest when full.
func (r *ring) push(evt Event) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = evt
		r.n++
		return
	}
	r.buf[r.head] = evt
	r.head = (r.head + 1) % len(r.buf)
}

// oldestSeq returns the sequence of the oldest retained event, or 0 when
// the ring is empty.
func (r *ring) oldestSeq() uint64 {
	if r.n == 0 {
		return 0
	}
	return r.buf[r.head].Sequence
}

// after returns a copy of the retained events with sequence > fromSeq.
func (r *ring) after(fromSeq uint64) []Event {
	out := make([]Event, 0, r.n)
	for i := 0; i < r.n; i++ {
		evt := r.buf[(r.head+i)%len(r.buf)]
		if evt.Sequence > fromSeq {
			out = append(out, evt)
		}
	}
	return out
}
