package protocol

import (
	"fmt"

	"github.com/luma/velocystream/vpack"
)

// maxPrealloc caps the buffer allocated up front from a peer supplied length.
const maxPrealloc = 1 << 20

// partialMessage is the receive state of one message that is still arriving.
type partialMessage struct {
	buf      []byte
	expected uint64

	// next is the sequence number of the next follow-up chunk, which is
	// also the number of chunks received so far
	next  uint32
	count uint32
}

// Assembler recombines chunks into messages for one connection. It is owned
// by that connection's read loop and is not safe for concurrent use.
type Assembler struct {
	version   ProtocolVersion
	validator vpack.Validator
	limits    Limits

	partials map[uint64]*partialMessage
}

func NewAssembler(version ProtocolVersion, validator vpack.Validator, limits Limits) *Assembler {
	return &Assembler{
		version:   version,
		validator: validator,
		limits:    limits,
		partials:  make(map[uint64]*partialMessage),
	}
}

// Feed adds one chunk. It returns the completed message once the last chunk
// of a message arrives and nil while the message is still incomplete.
//
// Errors for which IsFatal is true leave the assembler in an undefined state
// and the connection should be dropped. ErrInvalidEncoding only loses the one
// message; other messages in flight are not affected.
func (a *Assembler) Feed(c Chunk) (*Message, error) {
	h := c.Header
	p, inProgress := a.partials[h.MessageID]

	switch {
	case h.IsFirst() && inProgress:
		return nil, fmt.Errorf("%s: %w", h, ErrDuplicateFirstChunk)

	case h.IsFirst():
		p = &partialMessage{next: 1, count: h.Count()}

		if h.HasMessageLength {
			p.expected = h.MessageLength
		} else {
			// Legacy single chunk: the chunk is the whole message.
			p.expected = uint64(int(h.TotalLength) - ChunkHeaderLength(false))
		}

		if a.limits.MaxMessageBytes > 0 && p.expected > a.limits.MaxMessageBytes {
			return nil, fmt.Errorf("%s: declared length exceeds %d byte limit: %w",
				h, a.limits.MaxMessageBytes, ErrOverLongMessage)
		}

		size := p.expected
		if size > maxPrealloc {
			size = maxPrealloc
		}
		p.buf = make([]byte, 0, int(size))
		a.partials[h.MessageID] = p

	case !inProgress:
		return nil, fmt.Errorf("%s: %w", h, ErrUnknownMessageID)

	case h.HasMessageLength:
		return nil, fmt.Errorf("%s: message length on a follow-up chunk: %w", h, ErrMalformedHeader)

	default:
		if h.Index() != p.next {
			return nil, fmt.Errorf("%s: expected chunk %d: %w", h, p.next, ErrMalformedHeader)
		}
		if h.Index() >= p.count {
			return nil, fmt.Errorf("%s: message declared %d chunks: %w", h, p.count, ErrMalformedHeader)
		}
		p.next++
	}

	if uint64(len(p.buf))+uint64(len(c.Payload)) > p.expected {
		return nil, fmt.Errorf("%s: %d bytes buffered, %d more, %d expected: %w",
			h, len(p.buf), len(c.Payload), p.expected, ErrOverLongMessage)
	}

	p.buf = append(p.buf, c.Payload...)

	if uint64(len(p.buf)) < p.expected {
		return nil, nil
	}

	delete(a.partials, h.MessageID)

	if p.next != p.count {
		return nil, fmt.Errorf("%s: message complete after %d of %d chunks: %w",
			h, p.next, p.count, ErrMalformedHeader)
	}

	header, payloads, err := ValidateMessage(a.validator, p.buf)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", h.MessageID, err)
	}

	return &Message{
		ID:           h.MessageID,
		Header:       header,
		Payloads:     payloads,
		GenerateBody: true,
	}, nil
}

// Pending is the number of messages that have started but not completed.
func (a *Assembler) Pending() int {
	return len(a.partials)
}

// Reset drops every message in progress. Call it when the connection goes
// away.
func (a *Assembler) Reset() {
	for id := range a.partials {
		delete(a.partials, id)
	}
}
