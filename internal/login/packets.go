package login

import (
	"encoding/binary"

	"github.com/ironspire/realmgate/internal/config"
	"github.com/ironspire/realmgate/internal/model"
)

// packetWriter accumulates a reply body starting with its 2-byte
// little-endian opcode, mirroring the client's own framing (spec.md §6:
// "Each packet body begins with a little-endian 16-bit opcode").
type packetWriter struct {
	buf []byte
}

func newPacket(opcode uint16) *packetWriter {
	w := &packetWriter{buf: make([]byte, 2, 32)}
	binary.LittleEndian.PutUint16(w.buf, opcode)
	return w
}

func (w *packetWriter) u8(v byte) *packetWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *packetWriter) u16(v uint16) *packetWriter {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *packetWriter) u32(v uint32) *packetWriter {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// str appends a fixed-width, null-padded ASCII field of width bytes.
func (w *packetWriter) str(s string, width int) *packetWriter {
	b := make([]byte, width)
	copy(b, s)
	w.buf = append(w.buf, b...)
	return w
}

func (w *packetWriter) bytes() []byte { return w.buf }

func tosResultPacket(ok bool) []byte {
	v := byte(0)
	if ok {
		v = 1
	}
	return newPacket(ReplyToSResult).u8(v).bytes()
}

func loginFailPacket(reason byte) []byte {
	return newPacket(ReplyLoginFail).u8(reason).bytes()
}

func worldListPacket(cfg *config.Config) []byte {
	w := newPacket(ReplyWorldList)
	w.u16(uint16(len(cfg.Worlds)))
	for id, wd := range cfg.Worlds {
		w.u16(uint16(id)).u16(uint16(len(wd.Channels)))
	}
	return w.bytes()
}

func characterListPacket(chars []model.CharacterSummary) []byte {
	w := newPacket(ReplyCharacterList)
	w.u16(uint16(len(chars)))
	for _, c := range chars {
		w.u32(c.ID).str(c.Name, 16).u16(uint16(c.Level)).u16(uint16(c.ClassID)).u16(uint16(c.Slot))
	}
	return w.bytes()
}

func serverStatusPacket(online, capacity uint16) []byte {
	return newPacket(ReplyServerStatus).u16(online).u16(capacity).bytes()
}

func nameCheckResultPacket(taken bool) []byte {
	v := byte(0)
	if taken {
		v = 1
	}
	return newPacket(ReplyNameCheckResult).u8(v).bytes()
}

func createCharacterResultPacket(ok bool, reason byte, characterID uint32) []byte {
	v := byte(0)
	if ok {
		v = 1
	}
	return newPacket(ReplyCreateCharResult).u8(v).u8(reason).u32(characterID).bytes()
}

func pinResultPacket(ok bool) []byte {
	v := byte(0)
	if ok {
		v = 1
	}
	return newPacket(ReplyPinResult).u8(v).bytes()
}

func picResultPacket(ok bool) []byte {
	v := byte(0)
	if ok {
		v = 1
	}
	return newPacket(ReplyPICResult).u8(v).bytes()
}

// channelIPPacket is the reply spec.md's end-to-end scenario #1
// describes: the client's next hop, plus the single-use token it must
// present when it connects there.
func channelIPPacket(ip string, port uint16, token uint32) []byte {
	return newPacket(ReplyChannelIP).str(ip, 16).u16(port).u32(token).bytes()
}
