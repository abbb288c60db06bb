package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxBodyLen bounds a single frame's body so a corrupt or hostile header
// cannot make a decoder allocate unbounded memory.
const MaxBodyLen = 64 * 1024

// ErrBadFrame is returned when a decoded frame's declared length makes no
// sense (zero, or larger than MaxBodyLen).
var ErrBadFrame = fmt.Errorf("wire: invalid frame length")

// WriteFrame encrypts body with enc and writes the wire representation
// (4-byte header + ciphertext body) to w. body is encrypted in place.
func WriteFrame(w io.Writer, enc *Cipher, body []byte) error {
	if len(body) == 0 || len(body) > MaxBodyLen {
		return ErrBadFrame
	}
	header := enc.Header(uint16(len(body)))
	enc.XORCrypt(body)

	buf := make([]byte, 4+len(body))
	copy(buf[:4], header[:])
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, decrypts its body with dec, and
// returns the decrypted payload as [u16 N][body] — the internal
// representation spec.md §4.1 hands to the frame's consumer.
func ReadFrame(r io.Reader, dec *Cipher) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: reading header: %w", err)
	}

	n := DecodeHeader(header)
	if n == 0 || int(n) > MaxBodyLen {
		return nil, ErrBadFrame
	}

	out := make([]byte, 2+int(n))
	binary.LittleEndian.PutUint16(out[:2], n)

	body := out[2:]
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading body: %w", err)
	}
	dec.XORCrypt(body)

	return out, nil
}

// Decoder is a stateful frame decoder over a byte backlog the caller
// fills with Feed, used by the
// reactor so a worker can poll "do I have a full frame yet" without
// blocking (see internal/reactor for how that composes with suspension).
type Decoder struct {
	cipher *Cipher
	buf    []byte
}

// NewDecoder wraps cipher in a stateful decoder with an empty backlog.
func NewDecoder(cipher *Cipher) *Decoder {
	return &Decoder{cipher: cipher}
}

// Feed appends newly read bytes to the decoder's backlog.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next attempts to decode one frame out of the backlog. ok is false when
// fewer than a full frame's bytes are buffered yet — the caller should
// read more from the socket and call Feed again, never blocking the
// worker to do so.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}
	var header [4]byte
	copy(header[:], d.buf[:4])
	n := DecodeHeader(header)
	if n == 0 || int(n) > MaxBodyLen {
		return nil, false, ErrBadFrame
	}
	total := 4 + int(n)
	if len(d.buf) < total {
		return nil, false, nil
	}

	body := make([]byte, n)
	copy(body, d.buf[4:total])
	d.cipher.XORCrypt(body)

	out := make([]byte, 2+int(n))
	binary.LittleEndian.PutUint16(out[:2], n)
	copy(out[2:], body)

	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]

	return out, true, nil
}
