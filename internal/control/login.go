package control

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ConnectTimeout bounds a single dial attempt to a channel (spec.md §5
// "Cancellation and timeouts").
const ConnectTimeout = 10 * time.Second

// MaxConsecutiveFailures is how many connect timeouts in a row login
// tolerates before it drops its logged-in view of that channel (spec.md
// §5): any tokens still in flight for it are abandoned rather than
// queued forever for a channel that may never come back.
const MaxConsecutiveFailures = 3

// retryDelay is how long login waits between failed dial attempts to a
// channel once ConnectTimeout itself has already been spent failing.
const retryDelay = time.Second

// LogoutSink receives logout notifications relayed from any channel.
type LogoutSink interface {
	OnLogout(channelID string, token uint32)
}

// CapacitySink receives capacity reports relayed from any channel.
type CapacitySink interface {
	OnCapacityReport(channelID string, online, max uint32)
}

// ChannelEndpoint names one configured channel's control-dial address,
// paired with the identifier it registers itself under on this stream.
type ChannelEndpoint struct {
	ChannelID string
	Addr      string
}

// channelConn is the login-side state for one (world, channel)'s
// control stream.
type channelConn struct {
	id   string
	conn net.Conn
	w    *bufio.Writer

	mu        sync.Mutex
	inFlight  map[uint32]struct{} // tokens issued but not yet acked
	connected bool
}

func (c *channelConn) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("control: channel %s is disconnected", c.id)
	}
	if err := WriteMessage(c.w, m); err != nil {
		return err
	}
	return c.w.Flush()
}

// Server is the login side of the control channel (spec.md §4.4,
// component I): it dials a persistent connection to each configured
// channel, issues tokens, and relays logout/capacity notifications to
// the rest of the login process.
type Server struct {
	logouts    LogoutSink
	capacities CapacitySink

	mu       sync.Mutex
	channels map[string]*channelConn

	ackMu      sync.Mutex
	ackWaiters map[uint32]chan struct{}
}

// NewServer builds a login-side control server.
func NewServer(logouts LogoutSink, capacities CapacitySink) *Server {
	return &Server{
		logouts:    logouts,
		capacities: capacities,
		channels:   make(map[string]*channelConn),
		ackWaiters: make(map[uint32]chan struct{}),
	}
}

// Run dials endpoints[*].Addr, one persistent connection per channel,
// and keeps each one alive until stop is closed, reconnecting on drop.
// It blocks; call it from its own goroutine.
func (s *Server) Run(endpoints []ChannelEndpoint, stop <-chan struct{}) {
	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep ChannelEndpoint) {
			defer wg.Done()
			s.maintainChannel(ep, stop)
		}(ep)
	}
	wg.Wait()
}

// maintainChannel owns one channel's dial/reconnect loop (spec.md §5:
// "a 10-second connect timeout; after 3 consecutive failures it drops
// its logged-in view").
func (s *Server) maintainChannel(ep ChannelEndpoint, stop <-chan struct{}) {
	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", ep.Addr, ConnectTimeout)
		if err != nil {
			failures++
			slog.Warn("control: dialing channel failed", "channel", ep.ChannelID, "error", err, "consecutive_failures", failures)
			if failures >= MaxConsecutiveFailures {
				s.dropLoggedInView(ep.ChannelID)
			}
			select {
			case <-stop:
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		failures = 0

		if !s.service(ep.ChannelID, conn, stop) {
			return
		}
	}
}

// service drives one established connection until it drops or stop
// fires. It returns false when the caller should stop redialing.
func (s *Server) service(channelID string, conn net.Conn, stop <-chan struct{}) bool {
	r := bufio.NewReader(conn)
	handshake := make([]byte, 1)
	if _, err := io.ReadFull(r, handshake); err != nil {
		slog.Warn("control: failed reading handshake byte", "channel", channelID, "error", err)
		_ = conn.Close()
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	cc := &channelConn{id: channelID, conn: conn, w: bufio.NewWriter(conn), inFlight: make(map[uint32]struct{}), connected: true}
	s.mu.Lock()
	s.channels[channelID] = cc
	s.mu.Unlock()

	if handshake[0] == HandshakeFresh {
		slog.Info("control: channel connected fresh, instructing it to kick everyone", "channel", channelID)
		_ = cc.send(Message{Opcode: OpResetAndKickAll})
	} else {
		slog.Info("control: channel reconnected", "channel", channelID)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := ReadMessage(r)
		if err != nil {
			break
		}
		s.dispatch(channelID, cc, msg)
	}
	close(done)

	s.mu.Lock()
	cc.mu.Lock()
	cc.connected = false
	cc.mu.Unlock()
	s.mu.Unlock()
	_ = conn.Close()
	slog.Info("control: channel disconnected", "channel", channelID)

	select {
	case <-stop:
		return false
	default:
		return true
	}
}

// dropLoggedInView discards login's cached connection state for a
// channel that has been unreachable for MaxConsecutiveFailures dial
// attempts in a row, releasing anything still waiting on one of its
// in-flight tokens rather than blocking forever.
func (s *Server) dropLoggedInView(channelID string) {
	s.mu.Lock()
	cc, ok := s.channels[channelID]
	delete(s.channels, channelID)
	s.mu.Unlock()
	if !ok {
		return
	}

	cc.mu.Lock()
	tokens := make([]uint32, 0, len(cc.inFlight))
	for t := range cc.inFlight {
		tokens = append(tokens, t)
	}
	cc.mu.Unlock()

	s.ackMu.Lock()
	for _, t := range tokens {
		if waiter, ok := s.ackWaiters[t]; ok {
			close(waiter)
			delete(s.ackWaiters, t)
		}
	}
	s.ackMu.Unlock()
}

func (s *Server) dispatch(channelID string, cc *channelConn, msg Message) {
	switch msg.Opcode {
	case OpTokenAck:
		ack, err := decodeTokenAck(msg.Payload)
		if err != nil {
			slog.Warn("control: malformed token ack", "channel", channelID, "error", err)
			return
		}
		cc.mu.Lock()
		delete(cc.inFlight, ack.Token)
		cc.mu.Unlock()

		s.ackMu.Lock()
		if waiter, ok := s.ackWaiters[ack.Token]; ok {
			close(waiter)
			delete(s.ackWaiters, ack.Token)
		}
		s.ackMu.Unlock()
	case OpLogout:
		lo, err := decodeLogout(msg.Payload)
		if err != nil {
			slog.Warn("control: malformed logout", "channel", channelID, "error", err)
			return
		}
		if s.logouts != nil {
			s.logouts.OnLogout(channelID, lo.Token)
		}
	case OpCapacityReport:
		cr, err := decodeCapacityReport(msg.Payload)
		if err != nil {
			slog.Warn("control: malformed capacity report", "channel", channelID, "error", err)
			return
		}
		if s.capacities != nil {
			s.capacities.OnCapacityReport(channelID, cr.Online, cr.Max)
		}
	default:
		slog.Warn("control: unexpected opcode from channel", "channel", channelID, "opcode", msg.Opcode)
	}
}

// IssueToken generates a fresh, unique, non-zero token and sends it to
// the named channel along with the character id it is bound to (spec.md
// §4.4 "Token lifecycle"). Returns an error if the channel is not
// currently connected. The returned channel closes once the channel
// acknowledges receipt (OpTokenAck) — this control protocol carries no
// separate post-redemption signal, so login treats the ack as its one
// suspension point before replying to the client with the channel's
// address (see DESIGN.md).
func (s *Server) IssueToken(channelID string, characterID uint32) (uint32, <-chan struct{}, error) {
	s.mu.Lock()
	cc, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("control: unknown channel %q", channelID)
	}

	token, err := s.uniqueToken(cc)
	if err != nil {
		return 0, nil, err
	}

	acked := make(chan struct{})
	s.ackMu.Lock()
	s.ackWaiters[token] = acked
	s.ackMu.Unlock()

	cc.mu.Lock()
	cc.inFlight[token] = struct{}{}
	cc.mu.Unlock()

	if err := cc.send(Message{Opcode: OpTokenIssue, Payload: TokenIssue{Token: token, CharacterID: characterID}.encode()}); err != nil {
		cc.mu.Lock()
		delete(cc.inFlight, token)
		cc.mu.Unlock()
		s.ackMu.Lock()
		delete(s.ackWaiters, token)
		s.ackMu.Unlock()
		return 0, nil, err
	}
	return token, acked, nil
}

func (s *Server) uniqueToken(cc *channelConn) (uint32, error) {
	for attempt := 0; attempt < 32; attempt++ {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("control: generating token: %w", err)
		}
		token := binary.LittleEndian.Uint32(b[:])
		if token == 0 {
			continue
		}
		cc.mu.Lock()
		_, inFlight := cc.inFlight[token]
		cc.mu.Unlock()
		if !inFlight {
			return token, nil
		}
	}
	return 0, fmt.Errorf("control: exhausted attempts generating a unique token")
}

// ChannelConnected reports whether the named channel currently has a
// live control connection.
func (s *Server) ChannelConnected(channelID string) bool {
	s.mu.Lock()
	cc, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.connected
}
