// Package reactor implements the server's reactor and worker pool
// (spec.md §4.2), the room/session scheduler that runs inside it
// (spec.md §4.3), and the per-session suspension contract that lets
// application callbacks wait on external events without blocking a
// worker (spec.md §4.2 "Suspension contract").
package reactor

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ironspire/realmgate/internal/wire"
)

// State is a Session's lifecycle state (spec.md §4.6).
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateKicking
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateKicking:
		return "kicking"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ReadinessMask describes which external events a suspended callback is
// waiting on, and which ones actually fired when it resumes.
type ReadinessMask uint8

const (
	Readable ReadinessMask = 1 << iota
	Writable
	Priority
)

// ResumeFunc is invoked on the owning worker when a session's pending
// external event fires. It returns the next pending event to wait on (nil
// if the session is ready for its next packet), or an error to kick the
// session.
type ResumeFunc func(status ReadinessMask) (next *PendingEvent, err error)

// PendingEvent is what session.SetEvent installs: a channel that some
// external collaborator (typically a database connection, §4.5) will
// signal exactly once, and the callback to run on the worker when it
// does. This is the Go-idiomatic stand-in for the source's raw
// "external descriptor + resume callback" pair: the worker never polls a
// file descriptor directly, it selects over channels like this one
// alongside its mailbox.
type PendingEvent struct {
	Ready  <-chan ReadinessMask
	Resume ResumeFunc
}

// Session is the server-side representation of one client connection
// (spec.md §3, component C). All mutable fields below are touched only by
// the single worker goroutine that currently owns the session — that is
// the invariant that lets the rest of the reactor run lock-free per
// session.
type Session struct {
	RemoteAddr string
	Token      uint32

	conn net.Conn

	InCipher  *wire.Cipher
	OutCipher *wire.Cipher
	decoder   *wire.Decoder

	state State

	outbound    *RingBuffer
	writeWakeup chan struct{}

	workerPtr atomic.Pointer[Worker]
	room      string // room ID this session currently belongs to, "" if none

	// pendingTransfer is set by RequestTransfer from within an
	// application callback; the owning worker consumes it right after
	// the callback returns and starts a hand-off (spec.md §4.3).
	pendingTransfer string

	// handoff bookkeeping, touched by both the owning worker goroutine
	// (arming) and the writer goroutine (noticing the buffer drained).
	handoffMu     sync.Mutex
	handoffArmed  bool
	handoffTarget string

	suspension      *PendingEvent
	suspensionEpoch uint64

	closeOnce sync.Once
	closed    chan struct{}

	// appData is opaque storage for whatever per-session state the
	// application built on top of the reactor needs (login's auth
	// progress, a channel's logged-in character, ...). Only the owning
	// worker goroutine touches it.
	appData any
}

// NewSession wraps an accepted connection with a fresh cipher pair keyed
// off iv/version, ready to be handed to a Worker.
func NewSession(conn net.Conn, remoteAddr string, recvIV, sendIV [4]byte, version uint16, outboundInitial, outboundCeiling int) (*Session, error) {
	in, err := wire.NewCipher(recvIV, version)
	if err != nil {
		return nil, fmt.Errorf("reactor: session inbound cipher: %w", err)
	}
	out, err := wire.NewCipher(sendIV, version)
	if err != nil {
		return nil, fmt.Errorf("reactor: session outbound cipher: %w", err)
	}

	return &Session{
		RemoteAddr:  remoteAddr,
		conn:        conn,
		InCipher:    in,
		OutCipher:   out,
		decoder:     wire.NewDecoder(in),
		state:       StateConnecting,
		outbound:    NewRingBuffer(outboundInitial, outboundCeiling),
		writeWakeup: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}, nil
}

// State returns the session's current lifecycle state. Only safe to call
// from the owning worker goroutine.
func (s *Session) State() State { return s.state }

// Room returns the ID of the room this session currently belongs to, or
// "" if it has none yet.
func (s *Session) Room() string { return s.room }

// Write encrypts and enqueues bytes for delivery. It never blocks on
// socket I/O — it only fails when the outbound ring buffer is already at
// its ceiling (spec.md §4.2: "blocks only on the outbound buffer's
// backpressure"). The writer goroutine drains the buffer independently.
func (s *Session) Write(payload []byte) error {
	body := append([]byte(nil), payload...)
	header := s.OutCipher.Header(uint16(len(body)))
	s.OutCipher.XORCrypt(body)

	framed := make([]byte, 0, 4+len(body))
	framed = append(framed, header[:]...)
	framed = append(framed, body...)

	if !s.outbound.Push(framed) {
		return fmt.Errorf("reactor: session %s outbound buffer full", s.RemoteAddr)
	}
	select {
	case s.writeWakeup <- struct{}{}:
	default:
	}
	return nil
}

// SetEvent installs a pending external event. May be called at most once
// between a callback invocation and its resolution — a second call before
// the first resolves is a programming error in the application callback.
func (s *Session) SetEvent(ev *PendingEvent) {
	s.suspensionEpoch++
	s.suspension = ev
	epoch := s.suspensionEpoch
	go func() {
		select {
		case mask, ok := <-ev.Ready:
			if !ok {
				return
			}
			s.CurrentWorker().postResume(s, epoch, mask, ev.Resume)
		case <-s.closed:
		}
	}()
}

// CloseEvent drops a previously installed pending event, if any.
func (s *Session) CloseEvent() {
	s.suspensionEpoch++
	s.suspension = nil
}

// Suspended reports whether the session currently has a pending external
// event — while true, the worker does not read its next inbound packet.
func (s *Session) Suspended() bool { return s.suspension != nil }

// Kick transitions the session to Kicking, causing the next callback
// return or suspension resolution to tear it down.
func (s *Session) Kick() {
	if s.state == StateConnected || s.state == StateConnecting {
		s.state = StateKicking
	}
}

// closeSocket closes the underlying connection exactly once and signals
// any goroutine waiting on s.closed (used to unblock a reader/writer and
// to let SetEvent's waiter goroutine give up cleanly).
func (s *Session) closeSocket() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// AppData returns the application-defined state previously attached
// with SetAppData, or nil.
func (s *Session) AppData() any { return s.appData }

// SetAppData attaches application-defined state to the session.
func (s *Session) SetAppData(v any) { s.appData = v }

// CurrentWorker returns the worker that currently owns this session. It
// is safe to call from any goroutine — the reader/writer goroutines use
// it to route messages to whichever worker owns the session right now,
// which may change mid-flight during a hand-off.
func (s *Session) CurrentWorker() *Worker { return s.workerPtr.Load() }

func (s *Session) setWorker(w *Worker) { s.workerPtr.Store(w) }

// RequestTransfer asks the reactor to move this session to roomID once
// the in-flight callback returns (spec.md §4.3). Calling it more than
// once before the move happens just overwrites the pending target.
func (s *Session) RequestTransfer(roomID string) { s.pendingTransfer = roomID }

// armHandoff marks the outbound buffer as pending hand-off to targetRoom
// and nudges the writer goroutine to notice once it next drains to zero.
func (s *Session) armHandoff(targetRoom string) {
	s.handoffMu.Lock()
	s.handoffArmed = true
	s.handoffTarget = targetRoom
	s.handoffMu.Unlock()
	select {
	case s.writeWakeup <- struct{}{}:
	default:
	}
}

// readLoop forwards raw bytes read off the connection to whichever
// worker currently owns the session. It runs for the entire lifetime of
// the underlying connection, surviving hand-offs across workers — only
// the routing destination changes, never the goroutine itself.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			s.CurrentWorker().mailbox <- msgSessionError{session: s, err: err}
			return
		}
		chunk := append([]byte(nil), buf[:n]...)
		s.CurrentWorker().mailbox <- msgInbound{session: s, chunk: chunk}
	}
}

// writeLoop drains the outbound ring buffer to the socket whenever
// Write wakes it, and reports back to the owning worker once a pending
// hand-off's buffer has fully drained.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.writeWakeup:
		}
		for s.outbound.Len() > 0 {
			data := s.outbound.Peek(s.outbound.Len())
			n, err := s.conn.Write(data)
			if n > 0 {
				s.outbound.Drop(n)
			}
			if err != nil {
				return
			}
		}
		s.handoffMu.Lock()
		if s.handoffArmed && s.outbound.Len() == 0 {
			s.handoffArmed = false
			target := s.handoffTarget
			s.handoffMu.Unlock()
			w := s.CurrentWorker()
			select {
			case w.mailbox <- msgHandoffDrained{session: s, targetRoom: target}:
			case <-w.done:
			}
			continue
		}
		s.handoffMu.Unlock()
	}
}
