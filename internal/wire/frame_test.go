package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	iv := [4]byte{9, 8, 7, 6}
	enc, err := NewCipher(iv, DefaultVersion)
	require.NoError(t, err)
	dec, err := NewCipher(iv, DefaultVersion)
	require.NoError(t, err)

	var wire bytes.Buffer
	body := []byte("select world 0 channel 0")
	require.NoError(t, WriteFrame(&wire, enc, append([]byte(nil), body...)))

	payload, err := ReadFrame(&wire, dec)
	require.NoError(t, err)

	n := binary.LittleEndian.Uint16(payload[:2])
	require.Equal(t, uint16(len(body)), n)
	require.Equal(t, body, payload[2:])
	require.Equal(t, enc.IV(), dec.IV())
}

func TestDecoderFeedsPartialChunks(t *testing.T) {
	iv := [4]byte{1, 1, 1, 1}
	enc, err := NewCipher(iv, DefaultVersion)
	require.NoError(t, err)
	dec, err := NewCipher(iv, DefaultVersion)
	require.NoError(t, err)

	var wire bytes.Buffer
	require.NoError(t, WriteFrame(&wire, enc, []byte("first")))
	require.NoError(t, WriteFrame(&wire, enc, []byte("second-packet")))

	d := NewDecoder(dec)
	raw := wire.Bytes()

	// Feed byte by byte; Next must return ok=false until a full frame lands.
	var got [][]byte
	for i := range raw {
		d.Feed(raw[i : i+1])
		for {
			payload, ok, err := d.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, payload[2:])
		}
	}

	require.Equal(t, [][]byte{[]byte("first"), []byte("second-packet")}, got)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	iv := [4]byte{}
	enc, _ := NewCipher(iv, DefaultVersion)
	dec, _ := NewCipher(iv, DefaultVersion)

	header := enc.Header(0)
	var buf bytes.Buffer
	buf.Write(header[:])

	_, err := ReadFrame(&buf, dec)
	require.ErrorIs(t, err, ErrBadFrame)
}
