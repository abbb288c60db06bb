package channel

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironspire/realmgate/internal/control"
	"github.com/ironspire/realmgate/internal/reactor"
	"github.com/ironspire/realmgate/internal/wire"
)

type stubScriptHost struct {
	lastCharacterID uint32
	reply           []byte
}

func (s *stubScriptHost) Invoke(scriptID string, characterID uint32, request []byte) ([]byte, error) {
	s.lastCharacterID = characterID
	return s.reply, nil
}

func tokenBody(token uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, token)
	return b
}

func newTestSession(t *testing.T) *reactor.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	sess, err := reactor.NewSession(server, "test-client:1", [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, wire.DefaultVersion, 64, 1024)
	require.NoError(t, err)
	return sess
}

func TestHandleRedeemConsumesTokenAndJoinsRoom(t *testing.T) {
	pending := control.NewPendingTokens()
	pending.Add(42, 7)

	app := NewApp(pending, nil, nil, nil, 100)
	sess := newTestSession(t)

	cs := &clientState{}
	err := app.handleRedeem(sess, cs, tokenBody(42))
	require.NoError(t, err)
	require.True(t, cs.redeemed)
	require.Equal(t, uint32(42), cs.token)
	require.Equal(t, uint32(7), cs.characterID)
	require.Equal(t, int64(1), app.online.Load())

	_, stillPending := pending.Redeem(42)
	require.False(t, stillPending)
}

func TestHandleRedeemRejectsUnknownToken(t *testing.T) {
	pending := control.NewPendingTokens()
	app := NewApp(pending, nil, nil, nil, 100)
	sess := newTestSession(t)

	cs := &clientState{}
	require.NoError(t, app.handleRedeem(sess, cs, tokenBody(999)))
	require.False(t, cs.redeemed)
}

func TestParseTokenRejectsShortBody(t *testing.T) {
	_, ok := parseToken([]byte{1, 2})
	require.False(t, ok)
}

func TestHandleGamePacketInvokesScriptHost(t *testing.T) {
	host := &stubScriptHost{reply: nil}
	app := NewApp(control.NewPendingTokens(), nil, nil, host, 10)
	cs := &clientState{redeemed: true, characterID: 55}

	err := app.handleGamePacket(nil, cs, []byte("move"))
	require.NoError(t, err)
	require.Equal(t, uint32(55), host.lastCharacterID)
}
