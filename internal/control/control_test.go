package control

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Message{Opcode: OpTokenIssue, Payload: TokenIssue{Token: 42, CharacterID: 7}.encode()}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Opcode, out.Opcode)
	require.Equal(t, in.Payload, out.Payload)

	ti, err := decodeTokenIssue(out.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(42), ti.Token)
	require.Equal(t, uint32(7), ti.CharacterID)
}

func TestPendingTokensRedeemOnce(t *testing.T) {
	p := NewPendingTokens()
	p.Add(99, 5)
	require.Equal(t, 1, p.Len())

	id, ok := p.Redeem(99)
	require.True(t, ok)
	require.Equal(t, uint32(5), id)

	_, ok = p.Redeem(99)
	require.False(t, ok)
}

func TestPendingTokensReset(t *testing.T) {
	p := NewPendingTokens()
	p.Add(1, 1)
	p.Add(2, 2)
	p.Reset()
	require.Equal(t, 0, p.Len())
}

func TestServerIssuesTokenAndClientAcks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var tokenSeen uint32
	received := make(chan struct{}, 1)
	client := NewClient("w0c0", "", func(token, charID uint32) {
		tokenSeen = token
		received <- struct{}{}
	}, nil)

	stop := make(chan struct{})
	defer close(stop)
	go client.Serve(ln, stop)

	srv := NewServer(nil, nil)
	go srv.Run([]ChannelEndpoint{{ChannelID: "w0c0", Addr: ln.Addr().String()}}, stop)

	require.Eventually(t, func() bool { return srv.ChannelConnected("w0c0") }, time.Second, 5*time.Millisecond)

	token, acked, err := srv.IssueToken("w0c0", 123)
	require.NoError(t, err)
	require.NotZero(t, token)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client to receive token")
	}
	require.Equal(t, token, tokenSeen)

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
	require.Equal(t, uint32(123), func() uint32 { v, _ := client.Pending.Redeem(token); return v }())
}

func TestServerResetsChannelOnFreshHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	resetCalled := make(chan struct{}, 1)
	client := NewClient("w0c1", "", nil, func() { resetCalled <- struct{}{} })
	client.Pending.Add(1, 1)

	stop := make(chan struct{})
	defer close(stop)
	go client.Serve(ln, stop)

	srv := NewServer(nil, nil)
	go srv.Run([]ChannelEndpoint{{ChannelID: "w0c1", Addr: ln.Addr().String()}}, stop)

	select {
	case <-resetCalled:
	case <-time.After(time.Second):
		t.Fatal("expected reset-and-kick-all on fresh handshake")
	}
}

func TestClientHandshakeByteHonorsReconnectWindow(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state")

	c := NewClient("w0c2", statePath, nil, nil)
	require.Equal(t, HandshakeFresh, c.handshakeByte())

	c.touchLastSeen()
	require.Equal(t, HandshakeReconnect, c.handshakeByte())

	old := time.Now().Add(-2 * ReconnectWindow)
	require.NoError(t, os.WriteFile(statePath, []byte(formatUnix(old)), 0o644))
	require.Equal(t, HandshakeFresh, c.handshakeByte())
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
