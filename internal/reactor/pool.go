package reactor

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"

	crand "crypto/rand"

	"github.com/ironspire/realmgate/internal/wire"
)

// Config controls how a Pool is built.
type Config struct {
	// Workers is the number of worker goroutines to run. Defaults to
	// runtime.GOMAXPROCS(0) if zero or negative.
	Workers int
	// Version is the protocol version multiplier new sessions are keyed
	// with (spec.md §4.1).
	Version uint16
	// OutboundInitial and OutboundCeiling size each session's outbound
	// ring buffer (spec.md §9).
	OutboundInitial int
	OutboundCeiling int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Version == 0 {
		c.Version = wire.DefaultVersion
	}
	if c.OutboundInitial <= 0 {
		c.OutboundInitial = 4096
	}
	if c.OutboundCeiling <= 0 {
		c.OutboundCeiling = 1 << 20
	}
	return c
}

// Pool is the reactor's listener and worker-pool front door (spec.md
// §4.2, component E): it accepts connections, assigns each to the
// least-busy worker, and resolves which worker owns a given room.
type Pool struct {
	cfg     Config
	workers []*Worker

	outboundInitial int
	outboundCeiling int

	roomMap   *RoomMap
	addrIndex *AddrIndex
}

// NewPool builds a pool of workers (not yet running — call Run).
func NewPool(cfg Config, app Application) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:             cfg,
		outboundInitial: cfg.OutboundInitial,
		outboundCeiling: cfg.OutboundCeiling,
		roomMap:         NewRoomMap(),
		addrIndex:       NewAddrIndex(),
	}
	p.workers = make([]*Worker, cfg.Workers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p, app)
	}
	return p
}

// Run starts every worker's event loop. Call from its own goroutine, or
// let it block the caller — it returns once every worker has stopped.
func (p *Pool) Run() {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}
	wg.Wait()
}

// Shutdown requests every worker to stop and waits for them to drain.
func (p *Pool) Shutdown() {
	for _, w := range p.workers {
		w.Shutdown()
	}
	for _, w := range p.workers {
		<-w.Done()
	}
}

func (p *Pool) workerAt(idx int) *Worker { return p.workers[idx] }

// leastBusy returns the index of the worker with the fewest sessions,
// the lowest index winning ties (spec.md §4.2's listener assignment
// rule).
func (p *Pool) leastBusy() int {
	best := 0
	bestCount := p.workers[0].SessionCount()
	for i := 1; i < len(p.workers); i++ {
		if c := p.workers[i].SessionCount(); c < bestCount {
			best, bestCount = i, c
		}
	}
	return best
}

// resolveRoomOwner returns the worker index that owns roomID, assigning
// it to the least-busy worker on first use (spec.md §4.3's "first
// session to reference a room claims it").
func (p *Pool) resolveRoomOwner(roomID string) int {
	if idx, ok := p.roomMap.Lookup(roomID); ok {
		return idx
	}
	candidate := p.leastBusy()
	owner, _ := p.roomMap.Assign(roomID, candidate)
	return owner
}

// Serve accepts connections on ln until it is closed, handing each one
// off to the least-busy worker after generating a fresh IV pair and
// running the version handshake (spec.md §4.1). room, if non-empty,
// joins every accepted session to that room immediately, on the worker
// that owns it — useful for a gateway process where there is
// effectively one room per listener.
func (p *Pool) Serve(ln net.Listener, room string) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go p.onAccept(conn, room)
	}
}

func (p *Pool) onAccept(conn net.Conn, room string) {
	recvIV, err := randomIV()
	if err != nil {
		slog.Error("reactor: failed to generate session IV", "error", err)
		_ = conn.Close()
		return
	}
	sendIV, err := randomIV()
	if err != nil {
		slog.Error("reactor: failed to generate session IV", "error", err)
		_ = conn.Close()
		return
	}

	if err := sendHandshake(conn, recvIV, sendIV, p.cfg.Version); err != nil {
		slog.Warn("reactor: handshake write failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	idx := p.leastBusy()
	if room != "" {
		idx = p.resolveRoomOwner(room)
	}
	w := p.workers[idx]
	msg := msgNewConn{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		recvIV:     recvIV,
		sendIV:     sendIV,
		version:    p.cfg.Version,
		room:       room,
	}
	select {
	case w.mailbox <- msg:
	case <-w.done:
		_ = conn.Close()
	}
}

func randomIV() ([4]byte, error) {
	var b [4]byte
	_, err := crand.Read(b[:])
	return b, err
}

// handshakeBodyLen is the fixed body length of the unencrypted connect
// packet (spec.md §6): protocol version, a length-prefixed sub-version
// byte, the two IVs, and a trailing locale byte. Unlike every later
// frame in this protocol, the handshake's own length prefix is a literal
// protocol constant, not computed from the encoded body.
const handshakeBodyLen = 14

func sendHandshake(conn net.Conn, recvIV, sendIV [4]byte, version uint16) error {
	const subVersion = "1"

	body := make([]byte, 0, handshakeBodyLen)
	body = binary.LittleEndian.AppendUint16(body, version)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(subVersion)))
	body = append(body, subVersion...)
	body = append(body, recvIV[:]...)
	body = append(body, sendIV[:]...)
	body = append(body, 8) // locale

	header := make([]byte, 2)
	binary.LittleEndian.PutUint16(header, handshakeBodyLen)

	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("reactor: handshake header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("reactor: handshake body: %w", err)
	}
	return nil
}
