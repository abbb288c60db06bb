package reactor

import "sync"

// addrEntry is the process-wide record kept for a session's current
// location, looked up by remote address — the stable cross-thread
// identity spec.md §3 requires.
type addrEntry struct {
	worker int
	room   string
}

// AddrIndex is the process-wide sessions_by_addr map (spec.md §4.3 step
// 4), guarded by its own mutex, held only during a single mutation.
type AddrIndex struct {
	mu      sync.Mutex
	entries map[string]addrEntry
}

// NewAddrIndex creates an empty address index.
func NewAddrIndex() *AddrIndex {
	return &AddrIndex{entries: make(map[string]addrEntry)}
}

// Put records addr's current worker and room.
func (a *AddrIndex) Put(addr string, worker int, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[addr] = addrEntry{worker: worker, room: room}
}

// SetRoom updates only the room an already-tracked address is in —
// spec.md §4.3 step 4 of the hand-off protocol.
func (a *AddrIndex) SetRoom(addr, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entries[addr]
	e.room = room
	a.entries[addr] = e
}

// Lookup returns the worker/room for addr, if tracked.
func (a *AddrIndex) Lookup(addr string) (worker int, room string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, present := a.entries[addr]
	return e.worker, e.room, present
}

// Remove drops addr's entry, called when a session is fully destroyed.
func (a *AddrIndex) Remove(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, addr)
}
