package wire

// SupportedVersions maps a client protocol version to the LCG multiplier
// used to advance that version's cipher IV. Each entry is a distinct
// symmetric cipher keyed off the version number, as spec.md §4.1 requires.
//
// The reactor keys every session of a pool with that pool's configured
// version (reactor.Config.Version) and announces it in the handshake;
// NewCipher rejects a version missing from this table rather than
// defaulting to some arbitrary multiplier.
var SupportedVersions = map[uint16]uint32{
	62:  0x19660D3F,
	75:  0x2545F491,
	83:  0x6C078967,
	95:  0x5851F42D,
	134: 0x85EBCA77,
}

// DefaultVersion is the version reactor.Config falls back to when none is
// set, and the one tests use when they do not care which build a session
// claims.
const DefaultVersion uint16 = 62

func multiplierForVersion(version uint16) (uint32, bool) {
	m, ok := SupportedVersions[version]
	return m, ok
}
