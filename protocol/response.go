package protocol

import (
	"fmt"
	"strconv"

	"github.com/luma/velocystream/vpack"
)

const (
	responseHeaderFields = 4

	// MetaContentLength carries the body size of a response sent without
	// its body.
	MetaContentLength = "content-length"
)

// Response is a decoded response message.
type Response struct {
	ID           uint64
	ResponseCode int
	Meta         map[string]string
	Payloads     []vpack.Slice

	// GenerateBody set to false sends the header only. The size of the
	// payloads is reported in the content-length meta entry instead.
	GenerateBody bool
}

func NewResponse(id uint64, code int, payloads ...vpack.Slice) *Response {
	return &Response{
		ID:           id,
		ResponseCode: code,
		Meta:         map[string]string{},
		Payloads:     payloads,
		GenerateBody: true,
	}
}

// ErrorOrNil returns an error for responses with a 4xx or 5xx code.
func (r *Response) ErrorOrNil() error {
	if r.ResponseCode < 400 {
		return nil
	}

	if len(r.Payloads) > 0 {
		var body struct {
			ErrorMessage string `msgpack:"errorMessage"`
		}
		if err := r.Payloads[0].Decode(&body); err == nil && body.ErrorMessage != "" {
			return fmt.Errorf("response %d: %d: %s", r.ID, r.ResponseCode, body.ErrorMessage)
		}
	}

	return fmt.Errorf("response %d: %d", r.ID, r.ResponseCode)
}

// ContentLength returns the body size, from the content-length meta entry
// when the body was not sent.
func (r *Response) ContentLength() int {
	if v, ok := r.Meta[MetaContentLength]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	n := 0
	for _, p := range r.Payloads {
		n += p.ByteSize()
	}

	return n
}

// DecodeResponse decodes the header of m as a response header:
//
//	[version, type, responseCode, meta]
func DecodeResponse(m *Message) (*Response, error) {
	d := newHeaderDecoder(m.Header)

	n, err := d.begin(TypeResponse)
	if err != nil {
		return nil, fmt.Errorf("response %d: %w", m.ID, err)
	}
	if n != responseHeaderFields {
		return nil, fmt.Errorf("response %d: header has %d fields: %w", m.ID, n, ErrInvalidEncoding)
	}

	resp := &Response{ID: m.ID, Payloads: m.Payloads, GenerateBody: true}

	if resp.ResponseCode, err = d.readInt("responseCode"); err != nil {
		return nil, fmt.Errorf("response %d: %w", m.ID, err)
	}

	if resp.Meta, err = d.readStringMap("meta"); err != nil {
		return nil, fmt.Errorf("response %d: %w", m.ID, err)
	}

	return resp, nil
}

// Message encodes the response header and attaches the payloads.
func (r *Response) Message() (*Message, error) {
	meta := r.Meta
	if !r.GenerateBody {
		meta = make(map[string]string, len(r.Meta)+1)
		for k, v := range r.Meta {
			meta[k] = v
		}

		n := 0
		for _, p := range r.Payloads {
			n += p.ByteSize()
		}
		meta[MetaContentLength] = strconv.Itoa(n)
	}

	e := newHeaderEncoder(responseHeaderFields, TypeResponse)
	e.writeInt(r.ResponseCode)
	e.writeStringMap(meta)

	header, err := e.finish()
	if err != nil {
		return nil, err
	}

	msg := NewMessage(r.ID, header, r.Payloads...)
	msg.GenerateBody = r.GenerateBody

	return msg, nil
}
