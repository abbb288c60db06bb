package reactor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBufferPushPeekDrop(t *testing.T) {
	r := NewRingBuffer(8, 64)

	require.True(t, r.Push([]byte("hello")))
	require.Equal(t, 5, r.Len())

	got := r.Peek(5)
	require.Equal(t, []byte("hello"), got)

	r.Drop(5)
	require.Equal(t, 0, r.Len())
}

func TestRingBufferGrowsOnOverflow(t *testing.T) {
	r := NewRingBuffer(4, 64)
	payload := bytes.Repeat([]byte{0xAB}, 20)

	require.True(t, r.Push(payload))
	require.GreaterOrEqual(t, r.Cap(), 20)
	require.Equal(t, payload, r.Peek(20))
}

func TestRingBufferRejectsOverCeiling(t *testing.T) {
	r := NewRingBuffer(4, 16)
	require.False(t, r.Push(bytes.Repeat([]byte{1}, 17)))
}

func TestRingBufferShrinksUnderQuarterOccupancy(t *testing.T) {
	r := NewRingBuffer(4, 256)
	require.True(t, r.Push(bytes.Repeat([]byte{1}, 100)))
	grown := r.Cap()
	require.Greater(t, grown, 4)

	r.Drop(95) // down to 5 bytes, well under 25% of most shrink candidates
	require.Less(t, r.Cap(), grown)
	require.GreaterOrEqual(t, r.Cap(), 4, "never shrinks below initial capacity")
}

func TestRingBufferWrapAround(t *testing.T) {
	r := NewRingBuffer(8, 64)
	require.True(t, r.Push([]byte("abcd")))
	r.Drop(4)
	require.True(t, r.Push([]byte("efghijkl")))
	require.Equal(t, []byte("efghijkl"), r.Peek(8))
}
