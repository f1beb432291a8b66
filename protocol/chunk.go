package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// ChunkPrefixLength is totalLength:u32 chunkX:u32 messageId:u64.
	ChunkPrefixLength = 4 + 4 + 8

	// MessageLengthFieldLength is the optional messageLength:u64.
	MessageLengthFieldLength = 8
)

// ChunkHeaderLength returns the size of a chunk header with or without the
// message length field.
func ChunkHeaderLength(withTotal bool) int {
	if withTotal {
		return ChunkPrefixLength + MessageLengthFieldLength
	}

	return ChunkPrefixLength
}

// ChunkX packs the first-chunk flag and the chunk count (first chunk) or
// sequence number (follow-ups).
func ChunkX(isFirst bool, n uint32) uint32 {
	x := n << 1
	if isFirst {
		x |= 1
	}

	return x
}

// ChunkHeader is the fixed part of every chunk on the wire.
type ChunkHeader struct {
	TotalLength uint32
	ChunkX      uint32
	MessageID   uint64

	// MessageLength is only meaningful when HasMessageLength is set.
	MessageLength    uint64
	HasMessageLength bool
}

func (h ChunkHeader) IsFirst() bool {
	return h.ChunkX&1 == 1
}

// Count is the number of chunks in the message. Only valid on a first chunk.
func (h ChunkHeader) Count() uint32 {
	return h.ChunkX >> 1
}

// Index is the sequence number of a follow-up chunk, starting at 1.
func (h ChunkHeader) Index() uint32 {
	return h.ChunkX >> 1
}

// Len is the encoded size of the header.
func (h ChunkHeader) Len() int {
	return ChunkHeaderLength(h.HasMessageLength)
}

// PayloadLength is the number of payload bytes the header declares.
func (h ChunkHeader) PayloadLength() int {
	return int(h.TotalLength) - h.Len()
}

func (h ChunkHeader) String() string {
	if h.IsFirst() {
		return fmt.Sprintf("chunk{id=%d first count=%d total=%d msgLen=%d(%t)}",
			h.MessageID, h.Count(), h.TotalLength, h.MessageLength, h.HasMessageLength)
	}

	return fmt.Sprintf("chunk{id=%d index=%d total=%d}", h.MessageID, h.Index(), h.TotalLength)
}

// AppendChunkHeader appends the little-endian encoding of h to dst.
func AppendChunkHeader(dst []byte, h ChunkHeader) []byte {
	var buf [ChunkPrefixLength + MessageLengthFieldLength]byte

	binary.LittleEndian.PutUint32(buf[0:4], h.TotalLength)
	binary.LittleEndian.PutUint32(buf[4:8], h.ChunkX)
	binary.LittleEndian.PutUint64(buf[8:16], h.MessageID)

	if !h.HasMessageLength {
		return append(dst, buf[:ChunkPrefixLength]...)
	}

	binary.LittleEndian.PutUint64(buf[16:24], h.MessageLength)
	return append(dst, buf[:]...)
}

func EncodeChunkHeader(h ChunkHeader) []byte {
	return AppendChunkHeader(make([]byte, 0, h.Len()), h)
}

// decodeChunkPrefix reads the part of the header every chunk has.
func decodeChunkPrefix(b []byte) ChunkHeader {
	return ChunkHeader{
		TotalLength: binary.LittleEndian.Uint32(b[0:4]),
		ChunkX:      binary.LittleEndian.Uint32(b[4:8]),
		MessageID:   binary.LittleEndian.Uint64(b[8:16]),
	}
}

// DecodeChunkHeader decodes a chunk header from the start of b. Whether the
// message length field is present follows from the first-chunk flag, the
// chunk count and the protocol version.
func DecodeChunkHeader(b []byte, version ProtocolVersion) (ChunkHeader, error) {
	if len(b) < ChunkPrefixLength {
		return ChunkHeader{}, fmt.Errorf("%d of %d prefix bytes: %w",
			len(b), ChunkPrefixLength, ErrMalformedHeader)
	}

	h := decodeChunkPrefix(b)
	h.HasMessageLength = version.HasMessageLength(h.IsFirst(), h.Count())

	if h.HasMessageLength {
		if len(b) < ChunkHeaderLength(true) {
			return ChunkHeader{}, fmt.Errorf("%d of %d header bytes: %w",
				len(b), ChunkHeaderLength(true), ErrMalformedHeader)
		}
		h.MessageLength = binary.LittleEndian.Uint64(b[16:24])
	}

	return h, nil
}

// Chunk is one framed slice of a message.
type Chunk struct {
	Header  ChunkHeader
	Payload []byte
}

// AppendTo appends the chunk's header and payload to dst.
func (c Chunk) AppendTo(dst []byte) []byte {
	dst = AppendChunkHeader(dst, c.Header)
	return append(dst, c.Payload...)
}

// Bytes returns the chunk as it goes on the wire.
func (c Chunk) Bytes() []byte {
	return c.AppendTo(make([]byte, 0, int(c.Header.TotalLength)))
}

// Limits bounds what a reader will accept from its peer.
type Limits struct {
	MaxChunkBytes   uint32
	MaxMessageBytes uint64
}

const (
	DefaultMaxChunkBytes   = 30 * 1024
	DefaultMaxMessageBytes = 64 * 1024 * 1024
)

func DefaultLimits() Limits {
	return Limits{
		MaxChunkBytes:   DefaultMaxChunkBytes,
		MaxMessageBytes: DefaultMaxMessageBytes,
	}
}

// checkHeader validates the declared sizes of a decoded header against the
// limits.
func (l Limits) checkHeader(h ChunkHeader) error {
	if h.MessageID == 0 {
		return fmt.Errorf("%s: %w", h, ErrMalformedHeader)
	}

	if int(h.TotalLength) < h.Len() {
		return fmt.Errorf("%s: total length %d smaller than its %d byte header: %w",
			h, h.TotalLength, h.Len(), ErrMalformedHeader)
	}

	if l.MaxChunkBytes > 0 && h.TotalLength > l.MaxChunkBytes {
		return fmt.Errorf("%s: total length exceeds %d byte limit: %w",
			h, l.MaxChunkBytes, ErrMalformedHeader)
	}

	if !h.IsFirst() && h.Index() == 0 {
		return fmt.Errorf("%s: follow-up chunk with index 0: %w", h, ErrMalformedHeader)
	}

	if h.IsFirst() && h.Count() == 0 {
		return fmt.Errorf("%s: first chunk with count 0: %w", h, ErrMalformedHeader)
	}

	return nil
}
