package protocol

import "fmt"

// ProtocolVersion selects which chunk header layout a connection speaks. It is
// fixed per connection by whoever sets the connection up.
type ProtocolVersion int

const (
	// VersionLegacy is VelocyStream 1.0. Only the first chunk of a multi-chunk
	// message carries the message length.
	VersionLegacy ProtocolVersion = iota + 1

	// VersionCurrent is VelocyStream 1.1. Every first chunk carries the
	// message length.
	VersionCurrent
)

func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch s {
	case "1.0", "vst/1.0", "legacy":
		return VersionLegacy, nil
	case "1.1", "vst/1.1", "current", "":
		return VersionCurrent, nil
	default:
		return 0, fmt.Errorf("unknown VelocyStream version %q", s)
	}
}

func (v ProtocolVersion) String() string {
	switch v {
	case VersionLegacy:
		return "1.0"
	case VersionCurrent:
		return "1.1"
	default:
		return fmt.Sprintf("ProtocolVersion(%d)", int(v))
	}
}

func (v ProtocolVersion) Valid() bool {
	return v == VersionLegacy || v == VersionCurrent
}

// HasMessageLength reports whether a chunk carries the 8 byte message length
// field. count is the chunk count from the first chunk's ChunkX and is
// ignored for follow-up chunks.
func (v ProtocolVersion) HasMessageLength(isFirst bool, count uint32) bool {
	if !isFirst {
		return false
	}

	if v == VersionLegacy {
		return count > 1
	}

	return true
}
