// Package wire implements the session's stream transport and framing layer:
// a version-keyed, IV-chained symmetric cipher (one instance per direction)
// and the length-prefixed frame codec built on top of it.
package wire

import (
	"encoding/binary"
	"fmt"
)

// lcgIncrement is the additive constant of the IV's linear-congruential
// step. Shared across every version; the version only selects the
// multiplier, which is what makes two versions' keystreams diverge.
const lcgIncrement = 0x3C6EF35F

// Cipher advances a 4-byte IV one step per plaintext/ciphertext byte and
// XORs that byte with the high byte of the stepped IV. Two Ciphers built
// from the same (iv, version) produce identical keystreams, so one
// instance encrypts a direction and a twin instance decrypts it.
//
// Invariant (spec.md §3): after N bytes processed, Step has run exactly N
// times — never skipped, never repeated.
type Cipher struct {
	iv      uint32
	version uint16
	mul     uint32
}

// NewCipher builds a Cipher for one direction of a session. version must
// be a key of SupportedVersions.
func NewCipher(iv [4]byte, version uint16) (*Cipher, error) {
	mul, ok := multiplierForVersion(version)
	if !ok {
		return nil, fmt.Errorf("wire: unsupported protocol version %d", version)
	}
	return &Cipher{
		iv:      binary.LittleEndian.Uint32(iv[:]),
		version: version,
		mul:     mul,
	}, nil
}

// IV returns the cipher's current 4-byte IV.
func (c *Cipher) IV() [4]byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], c.iv)
	return out
}

// Version returns the protocol version this cipher was keyed with.
func (c *Cipher) Version() uint16 {
	return c.version
}

// step advances the IV by one application of the IV-update function and
// returns the keystream byte for the position just consumed.
func (c *Cipher) step() byte {
	c.iv = c.iv*c.mul + lcgIncrement
	return byte(c.iv >> 24)
}

// XORCrypt encrypts or decrypts data in place; the operation is its own
// inverse byte for byte, so the same method serves both directions.
// Advances the IV by len(data) steps.
func (c *Cipher) XORCrypt(data []byte) {
	for i := range data {
		data[i] ^= c.step()
	}
}

// Header produces the 4-byte encrypted header for a body of bodyLen
// bytes (spec.md §4.1): the low 16 bits XOR the high 16 bits of the
// header equal bodyLen. The header does not advance the IV — only body
// bytes do.
func (c *Cipher) Header(bodyLen uint16) [4]byte {
	ivBytes := c.IV()
	high := uint16(ivBytes[0])<<8 | uint16(ivBytes[1])
	high ^= c.version
	low := high ^ bodyLen
	var out [4]byte
	binary.LittleEndian.PutUint16(out[0:2], low)
	binary.LittleEndian.PutUint16(out[2:4], high)
	return out
}

// DecodeHeader extracts the declared body length from a 4-byte header
// using the self-xor relation the encoder built it with: N = (h>>16) XOR
// (h&0xFFFF). This is the protocol's only defense against splicing
// (spec.md §4.1) — it is a constraint every conforming header satisfies
// by construction, not a signature; a header produced by a conforming
// Header call can never fail it.
func DecodeHeader(header [4]byte) uint16 {
	low := binary.LittleEndian.Uint16(header[0:2])
	high := binary.LittleEndian.Uint16(header[2:4])
	return low ^ high
}
