package reactor

// RingBuffer is a bounded, growable FIFO byte queue used as a session's
// outbound buffer (spec.md §3). Push never blocks; it fails when the
// buffer is at its hard ceiling, which the worker treats as backpressure.
//
// Growth policy resolves spec.md §9's open question about the receive
// buffer's group-shrinking condition: double capacity when a push would
// overflow it, halve capacity when occupancy drops below 25%, with a
// floor at the buffer's initial capacity.
type RingBuffer struct {
	buf      []byte
	start    int
	len      int
	initial  int
	ceiling  int
}

// NewRingBuffer creates a ring buffer with the given initial and maximum
// capacities, in bytes.
func NewRingBuffer(initial, ceiling int) *RingBuffer {
	if initial <= 0 {
		initial = 1
	}
	if ceiling < initial {
		ceiling = initial
	}
	return &RingBuffer{
		buf:     make([]byte, initial),
		initial: initial,
		ceiling: ceiling,
	}
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int { return r.len }

// Cap returns the buffer's current capacity.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Push appends data to the buffer, growing it (doubling) as needed up to
// ceiling. Returns false if data does not fit even after growing to
// ceiling — the caller must treat that as outbound backpressure.
func (r *RingBuffer) Push(data []byte) bool {
	need := r.len + len(data)
	if need > r.ceiling {
		return false
	}
	if need > len(r.buf) {
		r.grow(need)
	}

	for _, b := range data {
		r.buf[(r.start+r.len)%len(r.buf)] = b
		r.len++
	}
	return true
}

// Peek returns up to max bytes from the front of the buffer without
// consuming them, for a writer goroutine to hand to a socket write.
func (r *RingBuffer) Peek(max int) []byte {
	n := r.len
	if n > max {
		n = max
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Drop consumes n bytes from the front of the buffer (after a successful
// write) and shrinks the backing array if occupancy has fallen low.
func (r *RingBuffer) Drop(n int) {
	if n > r.len {
		n = r.len
	}
	r.start = (r.start + n) % len(r.buf)
	r.len -= n
	r.maybeShrink()
}

func (r *RingBuffer) grow(need int) {
	newCap := len(r.buf)
	for newCap < need {
		newCap *= 2
	}
	if newCap > r.ceiling {
		newCap = r.ceiling
	}
	r.resize(newCap)
}

// maybeShrink halves capacity when occupancy drops under 25%, never below
// the buffer's initial capacity (spec.md §9).
func (r *RingBuffer) maybeShrink() {
	for len(r.buf) > r.initial {
		half := len(r.buf) / 2
		if half < r.initial {
			half = r.initial
		}
		if half == len(r.buf) {
			break
		}
		if r.len*4 >= len(r.buf) {
			// occupancy is >= 25% of the current capacity; stop here.
			break
		}
		r.resize(half)
	}
}

func (r *RingBuffer) resize(newCap int) {
	out := make([]byte, newCap)
	for i := 0; i < r.len; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	r.buf = out
	r.start = 0
}
