package protocol

import (
	"github.com/luma/velocystream/vpack"
)

// Message is one logical request or response: a header value followed by
// zero or more payload values, addressed by a message id.
type Message struct {
	ID       uint64
	Header   vpack.Slice
	Payloads []vpack.Slice

	// GenerateBody set to false keeps the payloads off the wire while
	// PayloadLength still reports their size. HEAD responses use this.
	GenerateBody bool
}

// NewMessage builds a message whose payloads are sent.
func NewMessage(id uint64, header vpack.Slice, payloads ...vpack.Slice) *Message {
	return &Message{
		ID:           id,
		Header:       header,
		Payloads:     payloads,
		GenerateBody: true,
	}
}

// PayloadLength is the combined size of all payload values, whether or not
// they are sent.
func (m *Message) PayloadLength() int {
	n := 0
	for _, p := range m.Payloads {
		n += p.ByteSize()
	}

	return n
}

// Len is the number of message bytes that go on the wire.
func (m *Message) Len() int {
	n := m.Header.ByteSize()
	if m.GenerateBody {
		n += m.PayloadLength()
	}

	return n
}

// Bytes concatenates the header and, if GenerateBody is set, the payloads.
func (m *Message) Bytes() []byte {
	buf := make([]byte, 0, m.Len())
	buf = append(buf, m.Header...)

	if m.GenerateBody {
		for _, p := range m.Payloads {
			buf = append(buf, p...)
		}
	}

	return buf
}
