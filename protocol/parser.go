package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ReadChunk reads exactly one chunk from r.
//
// io.EOF is returned untouched when the stream ends cleanly between chunks.
// Anything else that stops a whole chunk from being read is ErrMalformedHeader,
// since the reader no longer knows where the next chunk starts. The read
// error stays in the chain, so a deadline can still be told apart.
//
// r is read in small pieces, so it should be buffered.
func ReadChunk(r io.Reader, version ProtocolVersion, limits Limits) (Chunk, error) {
	var raw [ChunkPrefixLength + MessageLengthFieldLength]byte

	if _, err := io.ReadFull(r, raw[:ChunkPrefixLength]); err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("reading chunk prefix: %w: %w", ErrMalformedHeader, err)
	}

	h := decodeChunkPrefix(raw[:])
	if version.HasMessageLength(h.IsFirst(), h.Count()) {
		if _, err := io.ReadFull(r, raw[ChunkPrefixLength:]); err != nil {
			return Chunk{}, fmt.Errorf("reading message length: %w: %w", ErrMalformedHeader, err)
		}
	}

	h, err := DecodeChunkHeader(raw[:], version)
	if err != nil {
		return Chunk{}, err
	}

	if err := limits.checkHeader(h); err != nil {
		return Chunk{}, err
	}

	payload := make([]byte, h.PayloadLength())
	if _, err := io.ReadFull(r, payload); err != nil {
		return Chunk{}, fmt.Errorf("%s: reading %d payload bytes: %w: %w",
			h, len(payload), ErrMalformedHeader, err)
	}

	return Chunk{Header: h, Payload: payload}, nil
}

// ParseChunk parses one chunk from the start of data and returns it together
// with the number of bytes it occupied. The returned payload aliases data.
//
// ErrIncompleteChunk means data ends before the chunk does; nothing was
// consumed and the caller should retry once more bytes have arrived.
func ParseChunk(data []byte, version ProtocolVersion, limits Limits) (Chunk, int, error) {
	if len(data) < ChunkPrefixLength {
		return Chunk{}, 0, ErrIncompleteChunk
	}

	h := decodeChunkPrefix(data)
	if version.HasMessageLength(h.IsFirst(), h.Count()) && len(data) < ChunkHeaderLength(true) {
		return Chunk{}, 0, ErrIncompleteChunk
	}

	h, err := DecodeChunkHeader(data, version)
	if err != nil {
		return Chunk{}, 0, err
	}

	if err := limits.checkHeader(h); err != nil {
		return Chunk{}, 0, err
	}

	end := int(h.TotalLength)
	if len(data) < end {
		return Chunk{}, 0, ErrIncompleteChunk
	}

	return Chunk{Header: h, Payload: data[h.Len():end]}, end, nil
}
