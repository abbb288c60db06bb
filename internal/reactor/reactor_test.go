package reactor

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ironspire/realmgate/internal/wire"
)

// echoApp is a minimal Application used across reactor tests: it records
// every packet it sees and can optionally request a room transfer on the
// first packet.
type echoApp struct {
	mu          sync.Mutex
	connected   []string
	disconnects []string
	packets     []string
	joins       []string
	transferTo  string // if set, first packet triggers RequestTransfer
}

func (a *echoApp) OnConnect(s *Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = append(a.connected, s.RemoteAddr)
	return nil
}

func (a *echoApp) OnPacket(s *Session, body []byte) error {
	a.mu.Lock()
	a.packets = append(a.packets, string(body))
	transfer := a.transferTo
	a.mu.Unlock()

	if transfer != "" && s.Room() != transfer {
		s.RequestTransfer(transfer)
		return nil
	}
	return s.Write(body)
}

func (a *echoApp) OnDisconnect(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnects = append(a.disconnects, s.RemoteAddr)
}

func (a *echoApp) OnClientJoin(s *Session, room *Room) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins = append(a.joins, room.ID)
}

func (a *echoApp) packetCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.packets)
}

func (a *echoApp) joinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.joins)
}

// pipeConn wraps net.Pipe into something with a fake remote address so
// Session construction (which keys off RemoteAddr as a map key) works
// identically for two ends dialed in the same test.
type pipeConn struct {
	net.Conn
	remote string
}

func (c pipeConn) RemoteAddr() net.Addr { return fakeAddr(c.remote) }

type fakeAddr string

func (a fakeAddr) Network() string { return "pipe" }
func (a fakeAddr) String() string  { return string(a) }

func dialInto(t *testing.T, p *Pool, remote, room string) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	p.onAccept(pipeConn{Conn: server, remote: remote}, room)
	return client
}

func readHandshake(t *testing.T, client net.Conn) (recvIV, sendIV [4]byte, version uint16) {
	t.Helper()
	lenBuf := make([]byte, 2)
	_, err := readFull(client, lenBuf)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint16(lenBuf)
	body := make([]byte, n)
	_, err = readFull(client, body)
	require.NoError(t, err)

	version = binary.LittleEndian.Uint16(body[0:2])
	subLen := binary.LittleEndian.Uint16(body[2:4])
	off := 4 + int(subLen) // skip sub-version string
	copy(recvIV[:], body[off:off+4])
	copy(sendIV[:], body[off+4:off+8])
	return recvIV, sendIV, version
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeClientFrame(t *testing.T, client net.Conn, enc *wire.Cipher, body []byte) {
	t.Helper()
	plain := append([]byte(nil), body...)
	header := enc.Header(uint16(len(plain)))
	enc.XORCrypt(plain)
	_, err := client.Write(header[:])
	require.NoError(t, err)
	_, err = client.Write(plain)
	require.NoError(t, err)
}

func readServerFrame(t *testing.T, client net.Conn, dec *wire.Cipher) []byte {
	t.Helper()
	header := make([]byte, 4)
	_, err := readFull(client, header)
	require.NoError(t, err)
	var h [4]byte
	copy(h[:], header)
	n := wire.DecodeHeader(h)
	body := make([]byte, n)
	_, err = readFull(client, body)
	require.NoError(t, err)
	dec.XORCrypt(body)
	return body
}

func TestWorkerEchoesPacketBackToClient(t *testing.T) {
	app := &echoApp{}
	pool := NewPool(Config{Workers: 1}, app)
	go pool.Run()
	defer pool.Shutdown()

	client := dialInto(t, pool, "client-1:1", "")
	recvIV, sendIV, version := readHandshake(t, client)

	clientEnc, err := wire.NewCipher(recvIV, version) // client encrypts with the server's recv IV
	require.NoError(t, err)
	clientDec, err := wire.NewCipher(sendIV, version) // client decrypts with the server's send IV
	require.NoError(t, err)

	writeClientFrame(t, client, clientEnc, []byte("hello"))
	got := readServerFrame(t, client, clientDec)
	require.Equal(t, "hello", string(got))

	require.Eventually(t, func() bool { return app.packetCount() == 1 }, time.Second, time.Millisecond)
}

func TestHandoffMovesSessionToOwningWorker(t *testing.T) {
	app := &echoApp{transferTo: "arena-1"}
	pool := NewPool(Config{Workers: 4}, app)
	go pool.Run()
	defer pool.Shutdown()

	client := dialInto(t, pool, "client-2:1", "lobby")
	recvIV, sendIV, version := readHandshake(t, client)
	clientEnc, err := wire.NewCipher(recvIV, version)
	require.NoError(t, err)

	writeClientFrame(t, client, clientEnc, []byte("join"))

	require.Eventually(t, func() bool { return app.joinCount() >= 1 }, time.Second, time.Millisecond)

	idx, ok := pool.roomMap.Lookup("arena-1")
	require.True(t, ok)
	w, room, ok := pool.addrIndex.Lookup("client-2:1")
	require.True(t, ok)
	require.Equal(t, idx, w)
	require.Equal(t, "arena-1", room)
}

func TestTimerHeapFiresInDeadlineOrder(t *testing.T) {
	pool := NewPool(Config{Workers: 1}, &echoApp{})
	w := pool.workers[0]
	room := newRoom("r1", w)
	w.rooms["r1"] = room

	var fired []string
	room.AddTimer(30, func(time.Time) { fired = append(fired, "c") }, nil, false)
	room.AddTimer(10, func(time.Time) { fired = append(fired, "a") }, nil, false)
	room.AddTimer(20, func(time.Time) { fired = append(fired, "b") }, nil, false)

	// force every timer due by shifting each deadline one second into the
	// past, which keeps their relative order
	for _, t := range w.timers {
		t.Deadline = t.Deadline.Add(-time.Second)
	}

	w.fireDueTimers()
	require.Equal(t, []string{"a", "b", "c"}, fired)
}

func TestRoomBroadcastReachesEveryMemberExactlyOnce(t *testing.T) {
	pool := NewPool(Config{Workers: 1}, &echoApp{})
	w := pool.workers[0]
	room := newRoom("bcast", w)
	w.rooms["bcast"] = room

	counts := map[string]int{}
	var mu sync.Mutex
	recordingConn := func(id string) net.Conn {
		server, client := net.Pipe()
		go func() {
			buf := make([]byte, 64)
			for {
				n, err := client.Read(buf)
				if err != nil {
					return
				}
				mu.Lock()
				counts[id] += n
				mu.Unlock()
			}
		}()
		return server
	}

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		sess, err := NewSession(recordingConn(id), id, [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, wire.DefaultVersion, 64, 1024)
		require.NoError(t, err)
		sess.setWorker(w)
		room.sessions[id] = sess
		go sess.writeLoop()
	}

	room.Broadcast([]byte("hi"))

	// one frame of "hi" is a 4-byte header plus a 2-byte body
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(counts) != 3 {
			return false
		}
		for _, n := range counts {
			if n != 6 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}
