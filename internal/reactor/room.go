package reactor

import "time"

// Room is a logical map within a channel; its members are sessions
// currently in that map (spec.md §3, component F). A Room is always
// owned by exactly one Worker — every field here is touched only from
// that worker's goroutine.
type Room struct {
	ID       string
	worker   *Worker
	sessions map[string]*Session // keyed by RemoteAddr
	timers   []*Timer             // handle list; Timer.roomIndex mirrors position here
	Content  any                  // opaque game-content state, owned by the application
}

func newRoom(id string, w *Worker) *Room {
	return &Room{
		ID:       id,
		worker:   w,
		sessions: make(map[string]*Session),
	}
}

// SessionCount returns the number of sessions currently in the room.
func (r *Room) SessionCount() int { return len(r.sessions) }

// HasKeepAliveTimer reports whether any of the room's live timers are
// marked keep-alive — spec.md §3's room-destruction invariant checks
// this alongside SessionCount.
func (r *Room) HasKeepAliveTimer() bool {
	for _, t := range r.timers {
		if t.KeepAlive {
			return true
		}
	}
	return false
}

// Broadcast writes b to every session in the room. Because every member
// is owned by the same worker as the room, this is a plain in-thread
// loop — no locking required (spec.md §4.3).
func (r *Room) Broadcast(b []byte) {
	for _, s := range r.sessions {
		_ = s.Write(b)
	}
}

// BroadcastExcept writes b to every session in the room except skip,
// honoring each recipient's write-enabled flag the application tracks
// via writeEnabled (spec.md §4.3's session.broadcast_in_room).
func (r *Room) BroadcastExcept(skip *Session, writeEnabled map[*Session]bool, b []byte) {
	for _, s := range r.sessions {
		if s == skip {
			continue
		}
		if writeEnabled != nil && !writeEnabled[s] {
			continue
		}
		_ = s.Write(b)
	}
}

// AddTimer schedules cb to run delayMS milliseconds from now, returning
// the handle. The handle is inserted into both the room's list and the
// owning worker's heap; if it becomes the new minimum, the worker's OS
// timer is re-armed (spec.md §4.3).
func (r *Room) AddTimer(delayMS int64, cb func(now time.Time), data any, keepAlive bool) *Timer {
	t := &Timer{
		Deadline:  time.Now().Add(time.Duration(delayMS) * time.Millisecond),
		Callback:  cb,
		Data:      data,
		Room:      r,
		KeepAlive: keepAlive,
		roomIndex: len(r.timers),
	}
	r.timers = append(r.timers, t)
	r.worker.scheduleTimer(t)
	return t
}

// StopTimer removes a previously scheduled timer from both containers.
func (r *Room) StopTimer(t *Timer) {
	r.worker.unscheduleTimer(t)
	r.removeFromList(t)
}

func (r *Room) removeFromList(t *Timer) {
	idx := t.roomIndex
	if idx < 0 || idx >= len(r.timers) || r.timers[idx] != t {
		return
	}
	last := len(r.timers) - 1
	r.timers[idx] = r.timers[last]
	r.timers[idx].roomIndex = idx
	r.timers[last] = nil
	r.timers = r.timers[:last]
}

// ForEachSession iterates the room's sessions. fn returning false stops
// iteration early.
func (r *Room) ForEachSession(fn func(*Session) bool) {
	for _, s := range r.sessions {
		if !fn(s) {
			return
		}
	}
}
