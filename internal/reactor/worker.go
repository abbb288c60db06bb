package reactor

import (
	"container/heap"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Application is the callback seam a login gateway or channel process
// implements (spec.md §4.2, §4.3). Every method runs on the worker
// goroutine that owns the session — callbacks never run concurrently for
// the same session or room.
type Application interface {
	// OnConnect fires once a session's handshake is complete. Returning
	// an error kicks the session.
	OnConnect(s *Session) error
	// OnPacket fires once per decoded frame. Returning an error kicks the
	// session.
	OnPacket(s *Session, opcodePayload []byte) error
	// OnDisconnect fires when a session is about to be destroyed (either
	// the peer closed, or the application kicked it).
	OnDisconnect(s *Session)
	// OnClientJoin fires on the new owning worker right after a hand-off
	// completes (spec.md §4.3 step 5), or right after a requested transfer
	// into a room the current worker already owns. A session placed in a
	// room at accept time (Pool.Serve's room argument) joins it without
	// this call.
	OnClientJoin(s *Session, room *Room)
}

// workerMsg is the sum type carried over a worker's mailbox. Every
// cross-goroutine effect on a worker's state arrives as one of these,
// preserving the "a worker touches only its own sessions and rooms"
// invariant (spec.md §3).
type workerMsg interface{ isWorkerMsg() }

type msgNewConn struct {
	conn       net.Conn
	remoteAddr string
	recvIV     [4]byte
	sendIV     [4]byte
	version    uint16
	room       string // "" if the application assigns a room later
}

type msgInbound struct {
	session *Session
	chunk   []byte
}

type msgSessionError struct {
	session *Session
	err     error
}

type msgResume struct {
	session *Session
	epoch   uint64
	mask    ReadinessMask
	resume  ResumeFunc
}

type msgArrival struct {
	session    *Session
	targetRoom string
}

type msgHandoffDrained struct {
	session    *Session
	targetRoom string
}

type msgShutdown struct{}

func (msgNewConn) isWorkerMsg()        {}
func (msgInbound) isWorkerMsg()        {}
func (msgSessionError) isWorkerMsg()   {}
func (msgResume) isWorkerMsg()         {}
func (msgArrival) isWorkerMsg()        {}
func (msgHandoffDrained) isWorkerMsg() {}
func (msgShutdown) isWorkerMsg()       {}

// Worker is a single-threaded event loop hosting a disjoint set of
// sessions and rooms (spec.md §3, component D). Everything inside Worker
// is only ever touched by the goroutine running Run.
type Worker struct {
	Index int

	pool *Pool
	app  Application

	sessions map[string]*Session // keyed by RemoteAddr
	rooms    map[string]*Room

	mailbox   chan workerMsg
	timers    timerHeap
	osTimer   *time.Timer
	done      chan struct{}
	liveCount int32 // mirrors len(sessions); read atomically by other goroutines
}

func newWorker(index int, pool *Pool, app Application) *Worker {
	return &Worker{
		Index:    index,
		pool:     pool,
		app:      app,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]*Room),
		mailbox:  make(chan workerMsg, 256),
		done:     make(chan struct{}),
	}
}

// SessionCount returns the worker's current session count, used by the
// listener's minimum-busy selection rule (spec.md §4.2). Safe to call
// from any goroutine: it is a best-effort snapshot read of an atomically
// published counter, never the authoritative session map itself.
func (w *Worker) SessionCount() int {
	return int(atomic.LoadInt32(&w.liveCount))
}

// Shutdown queues a stop request behind the commands already in the
// worker's mailbox; the event loop handles those first, then shuts down
// (handleShutdown) and returns.
func (w *Worker) Shutdown() {
	select {
	case w.mailbox <- msgShutdown{}:
	case <-w.done:
	}
}

// Done returns a channel closed once the worker's Run loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// postResume is called by a Session's SetEvent waiter goroutine when the
// external event fires; it hands control back to the owning worker via
// the mailbox rather than touching session state directly.
func (w *Worker) postResume(s *Session, epoch uint64, mask ReadinessMask, resume ResumeFunc) {
	target := s.CurrentWorker()
	msg := msgResume{session: s, epoch: epoch, mask: mask, resume: resume}
	select {
	case target.mailbox <- msg:
	case <-target.done:
	}
}

// Run is the worker's event loop. It never blocks on anything but its
// own mailbox and timer channel, so one slow session never stalls
// another (spec.md §5).
func (w *Worker) Run() {
	defer close(w.done)
	for {
		var timerC <-chan time.Time
		if w.osTimer != nil {
			timerC = w.osTimer.C
		}

		select {
		case <-timerC:
			w.fireDueTimers()
		case msg := <-w.mailbox:
			if _, isShutdown := msg.(msgShutdown); isShutdown {
				w.handleShutdown()
				return
			}
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg workerMsg) {
	switch m := msg.(type) {
	case msgNewConn:
		w.handleNewConn(m)
	case msgInbound:
		w.handleInbound(m)
	case msgSessionError:
		w.handleSessionError(m)
	case msgResume:
		w.handleResume(m)
	case msgArrival:
		w.handleArrival(m)
	case msgHandoffDrained:
		w.handleHandoffDrained(m)
	}
}

func (w *Worker) handleNewConn(m msgNewConn) {
	sess, err := NewSession(m.conn, m.remoteAddr, m.recvIV, m.sendIV, m.version,
		w.pool.outboundInitial, w.pool.outboundCeiling)
	if err != nil {
		slog.Error("reactor: session setup failed", "remote", m.remoteAddr, "error", err)
		_ = m.conn.Close()
		return
	}
	sess.setWorker(w)
	w.sessions[m.remoteAddr] = sess
	w.publishCount()
	w.pool.addrIndex.Put(m.remoteAddr, w.Index, m.room)

	go sess.readLoop()
	go sess.writeLoop()

	sess.state = StateConnected
	if m.room != "" {
		room := w.roomOrCreate(m.room)
		room.sessions[m.remoteAddr] = sess
		sess.room = m.room
	}
	if err := w.app.OnConnect(sess); err != nil {
		slog.Warn("reactor: OnConnect rejected session", "remote", m.remoteAddr, "error", err)
		w.kickAndMaybeDestroy(sess)
		return
	}
	w.afterCallback(sess)
}

func (w *Worker) handleInbound(m msgInbound) {
	sess := m.session
	if cur, ok := w.sessions[sess.RemoteAddr]; !ok || cur != sess {
		// Stray delivery that arrived after a hand-off raced the reader
		// goroutine; relay to whoever owns it now instead of dropping it.
		target := sess.CurrentWorker()
		if target != w {
			select {
			case target.mailbox <- m:
			case <-target.done:
			}
		}
		return
	}
	if sess.state != StateConnected || sess.Suspended() {
		return
	}

	sess.decoder.Feed(m.chunk)
	for {
		payload, ok, err := sess.decoder.Next()
		if err != nil {
			slog.Warn("reactor: protocol violation", "remote", sess.RemoteAddr, "error", err)
			w.kickAndMaybeDestroy(sess)
			return
		}
		if !ok {
			return
		}
		if err := w.app.OnPacket(sess, payload[2:]); err != nil {
			w.kickAndMaybeDestroy(sess)
			return
		}
		if w.afterCallback(sess) {
			// session suspended or handed off; stop pulling more frames
			// until it is ready again.
			return
		}
	}
}

// afterCallback applies the suspension/transfer/kick contract once a
// callback returns cleanly (spec.md §4.2). Returns true if the session
// should not be fed more inbound data right now.
func (w *Worker) afterCallback(sess *Session) bool {
	if sess.state == StateKicking {
		w.kickAndMaybeDestroy(sess)
		return true
	}
	if sess.Suspended() {
		return true
	}
	if sess.pendingTransfer != "" {
		target := sess.pendingTransfer
		sess.pendingTransfer = ""
		w.beginHandoff(sess, target)
		return true
	}
	return false
}

func (w *Worker) handleSessionError(m msgSessionError) {
	sess := m.session
	if cur, ok := w.sessions[sess.RemoteAddr]; !ok || cur != sess {
		return
	}
	if sess.state == StateConnected {
		sess.state = StateDisconnecting
	}
	w.app.OnDisconnect(sess)
	w.destroySession(sess)
}

func (w *Worker) handleResume(m msgResume) {
	sess := m.session
	if sess.suspensionEpoch != m.epoch {
		return // stale resume for an event that was already superseded
	}
	sess.suspension = nil
	next, err := m.resume(m.mask)
	if err != nil {
		sess.Kick()
	} else if next != nil {
		sess.SetEvent(next)
	}
	if w.afterCallback(sess) {
		return
	}
	// ready again: let any already-buffered bytes resume decoding.
	w.handleInbound(msgInbound{session: sess, chunk: nil})
}

func (w *Worker) kickAndMaybeDestroy(sess *Session) {
	sess.state = StateKicking
	if sess.Suspended() {
		return // destroyed later once the suspension resolves
	}
	w.app.OnDisconnect(sess)
	w.destroySession(sess)
}

func (w *Worker) destroySession(sess *Session) {
	delete(w.sessions, sess.RemoteAddr)
	w.publishCount()
	if room, ok := w.rooms[sess.room]; ok {
		delete(room.sessions, sess.RemoteAddr)
		w.maybeDestroyRoom(room)
	}
	w.pool.addrIndex.Remove(sess.RemoteAddr)
	sess.closeSocket()
}

func (w *Worker) maybeDestroyRoom(room *Room) {
	if room.SessionCount() > 0 || room.HasKeepAliveTimer() {
		return
	}
	for _, t := range append([]*Timer(nil), room.timers...) {
		removeTimer(&w.timers, t)
	}
	delete(w.rooms, room.ID)
	w.pool.roomMap.Remove(room.ID)
}

func (w *Worker) publishCount() {
	atomic.StoreInt32(&w.liveCount, int32(len(w.sessions)))
}

// handleShutdown drops every non-keep-alive timer unrun, gives each
// keep-alive timer one last run, tears down every room, then disconnects
// every session the worker still owns.
func (w *Worker) handleShutdown() {
	var keepAlive []*Timer
	for _, t := range append([]*Timer(nil), w.timers...) {
		removeTimer(&w.timers, t)
		t.Room.removeFromList(t)
		if t.KeepAlive {
			keepAlive = append(keepAlive, t)
		}
	}
	now := time.Now()
	for _, t := range keepAlive {
		t.Callback(now)
	}
	for id := range w.rooms {
		w.pool.roomMap.Remove(id)
		delete(w.rooms, id)
	}
	for _, sess := range w.sessions {
		w.app.OnDisconnect(sess)
		sess.closeSocket()
	}
	w.sessions = nil
}

func (w *Worker) roomOrCreate(id string) *Room {
	if r, ok := w.rooms[id]; ok {
		return r
	}
	r := newRoom(id, w)
	w.rooms[id] = r
	return r
}

// beginHandoff starts moving sess to targetRoom (spec.md §4.3). If the
// room is already owned by this worker the move is instant; otherwise
// the session's outbound buffer is armed to drain before the session is
// handed to the owning worker.
func (w *Worker) beginHandoff(sess *Session, targetRoom string) {
	targetIdx := w.pool.resolveRoomOwner(targetRoom)
	if targetIdx == w.Index {
		w.moveSessionToLocalRoom(sess, targetRoom)
		return
	}
	if oldRoom, ok := w.rooms[sess.room]; ok {
		delete(oldRoom.sessions, sess.RemoteAddr)
		w.maybeDestroyRoom(oldRoom)
	}
	sess.armHandoff(targetRoom)
}

func (w *Worker) moveSessionToLocalRoom(sess *Session, roomID string) {
	if oldRoom, ok := w.rooms[sess.room]; ok {
		delete(oldRoom.sessions, sess.RemoteAddr)
		w.maybeDestroyRoom(oldRoom)
	}
	room := w.roomOrCreate(roomID)
	room.sessions[sess.RemoteAddr] = sess
	sess.room = roomID
	w.pool.addrIndex.SetRoom(sess.RemoteAddr, roomID)
	w.app.OnClientJoin(sess, room)
}

// handleHandoffDrained runs on the releasing worker once sess's writer
// goroutine has confirmed the outbound buffer emptied (spec.md §4.3 step
// 3): the session leaves this worker's bookkeeping and is forwarded to
// the room's owner.
func (w *Worker) handleHandoffDrained(m msgHandoffDrained) {
	sess := m.session
	if cur, ok := w.sessions[sess.RemoteAddr]; !ok || cur != sess {
		return
	}
	delete(w.sessions, sess.RemoteAddr)
	w.publishCount()

	targetIdx := w.pool.resolveRoomOwner(m.targetRoom)
	target := w.pool.workerAt(targetIdx)
	select {
	case target.mailbox <- msgArrival{session: sess, targetRoom: m.targetRoom}:
	case <-target.done:
	}
}

// handleArrival runs on the receiving worker, completing a hand-off
// (spec.md §4.3 steps 4-5): the session is installed into this worker's
// maps, joined to the target room, and OnClientJoin fires.
func (w *Worker) handleArrival(m msgArrival) {
	sess := m.session
	sess.setWorker(w)
	w.sessions[sess.RemoteAddr] = sess
	w.publishCount()

	room := w.roomOrCreate(m.targetRoom)
	room.sessions[sess.RemoteAddr] = sess
	sess.room = m.targetRoom
	w.pool.addrIndex.Put(sess.RemoteAddr, w.Index, m.targetRoom)

	w.app.OnClientJoin(sess, room)
	if w.afterCallback(sess) {
		return
	}
	// bytes that arrived for the old packet (the one that triggered this
	// transfer) and a following packet back-to-back may already be sitting
	// in the decoder's buffer: let them resume decoding on the new worker.
	w.handleInbound(msgInbound{session: sess, chunk: nil})
}

// fireDueTimers runs every timer whose deadline has passed, in deadline
// order, then re-arms the OS timer for whatever is now the new minimum.
func (w *Worker) fireDueTimers() {
	now := time.Now()
	for {
		t := w.timers.peekMin()
		if t == nil || t.Deadline.After(now) {
			break
		}
		removeTimer(&w.timers, t)
		t.Room.removeFromList(t)
		t.Callback(now)
	}
	w.rearmOSTimer()
}

func (w *Worker) rearmOSTimer() {
	next := w.timers.peekMin()
	if next == nil {
		w.osTimer = nil
		return
	}
	d := time.Until(next.Deadline)
	if d < 0 {
		d = 0
	}
	if w.osTimer == nil {
		w.osTimer = time.NewTimer(d)
		return
	}
	if !w.osTimer.Stop() {
		select {
		case <-w.osTimer.C:
		default:
		}
	}
	w.osTimer.Reset(d)
}

func (w *Worker) scheduleTimer(t *Timer) {
	heap.Push(&w.timers, t)
	w.rearmOSTimer()
}

func (w *Worker) unscheduleTimer(t *Timer) {
	removeTimer(&w.timers, t)
	w.rearmOSTimer()
}
