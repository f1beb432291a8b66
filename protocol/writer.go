package protocol

import (
	"fmt"
	"io"
	"math"
)

// ChunkWriter splits messages into chunks of at most maxChunkBytes.
type ChunkWriter struct {
	version       ProtocolVersion
	maxChunkBytes int
}

func NewChunkWriter(version ProtocolVersion, maxChunkBytes int) (*ChunkWriter, error) {
	if !version.Valid() {
		return nil, fmt.Errorf("chunk writer: %s", version)
	}

	if maxChunkBytes <= ChunkHeaderLength(true) {
		return nil, fmt.Errorf("%d bytes: %w", maxChunkBytes, ErrChunkSizeTooSmall)
	}

	if uint64(maxChunkBytes) > math.MaxUint32 {
		return nil, fmt.Errorf("%d bytes: %w", maxChunkBytes, ErrChunkSizeTooLarge)
	}

	return &ChunkWriter{version: version, maxChunkBytes: maxChunkBytes}, nil
}

func (w *ChunkWriter) Version() ProtocolVersion {
	return w.version
}

func (w *ChunkWriter) MaxChunkBytes() int {
	return w.maxChunkBytes
}

// NumberOfChunks returns how many chunks a message of length bytes is split
// into. The count goes into the first chunk's header, so it has to be known
// before anything is emitted.
func NumberOfChunks(length, maxChunkBytes int) int {
	if length+ChunkHeaderLength(true) < maxChunkBytes {
		return 1
	}

	firstCapacity := maxChunkBytes - ChunkHeaderLength(true)
	followCapacity := maxChunkBytes - ChunkHeaderLength(false)

	n := 1
	for remaining := length - firstCapacity; remaining > 0; remaining -= followCapacity {
		n++
	}

	return n
}

// Split cuts data, the serialized message, into chunks. Payloads alias data.
func (w *ChunkWriter) Split(id uint64, data []byte) ([]Chunk, error) {
	if id == 0 {
		return nil, ErrInvalidMessageID
	}

	count := NumberOfChunks(len(data), w.maxChunkBytes)
	chunks := make([]Chunk, 0, count)

	withTotal := w.version.HasMessageLength(true, uint32(count))
	firstCapacity := len(data)
	if count > 1 {
		firstCapacity = w.maxChunkBytes - ChunkHeaderLength(true)
	}

	first := ChunkHeader{
		ChunkX:           ChunkX(true, uint32(count)),
		MessageID:        id,
		HasMessageLength: withTotal,
	}
	if withTotal {
		first.MessageLength = uint64(len(data))
	}
	first.TotalLength = uint32(first.Len() + firstCapacity)

	chunks = append(chunks, Chunk{Header: first, Payload: data[:firstCapacity]})

	followCapacity := w.maxChunkBytes - ChunkHeaderLength(false)
	for offset, index := firstCapacity, uint32(1); offset < len(data); index++ {
		end := offset + followCapacity
		if end > len(data) {
			end = len(data)
		}

		chunks = append(chunks, Chunk{
			Header: ChunkHeader{
				TotalLength: uint32(ChunkHeaderLength(false) + end - offset),
				ChunkX:      ChunkX(false, index),
				MessageID:   id,
			},
			Payload: data[offset:end],
		})

		offset = end
	}

	return chunks, nil
}

// Encode serializes msg and returns each of its chunks ready for the wire.
func (w *ChunkWriter) Encode(msg *Message) ([][]byte, error) {
	chunks, err := w.Split(msg.ID, msg.Bytes())
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = c.Bytes()
	}

	return out, nil
}

// WriteMessage writes every chunk of msg to out, in order.
func (w *ChunkWriter) WriteMessage(out io.Writer, msg *Message) error {
	chunks, err := w.Encode(msg)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		if _, err := out.Write(c); err != nil {
			return err
		}
	}

	return nil
}
