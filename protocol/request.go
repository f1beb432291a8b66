package protocol

import (
	"fmt"

	"github.com/luma/velocystream/vpack"
)

const requestHeaderFields = 7

// Paths served by the default handler.
const (
	PathVersion  = "/_api/version"
	PathDocument = "/_api/document/"
)

// Request is a decoded request message.
type Request struct {
	ID          uint64
	Database    string
	RequestType RequestType
	Path        string
	Params      map[string]string
	Meta        map[string]string
	Payloads    []vpack.Slice
}

func NewRequest(requestType RequestType, path string, payloads ...vpack.Slice) *Request {
	return &Request{
		Database:    "_system",
		RequestType: requestType,
		Path:        path,
		Params:      map[string]string{},
		Meta:        map[string]string{},
		Payloads:    payloads,
	}
}

// DecodeRequest decodes the header of m as a request header:
//
//	[version, type, database, requestType, path, params, meta]
//
// The version and type are checked before the rest is parsed.
func DecodeRequest(m *Message) (*Request, error) {
	d := newHeaderDecoder(m.Header)

	n, err := d.begin(TypeRequest)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}
	if n != requestHeaderFields {
		return nil, fmt.Errorf("request %d: header has %d fields: %w", m.ID, n, ErrInvalidEncoding)
	}

	req := &Request{ID: m.ID, Payloads: m.Payloads}

	if req.Database, err = d.readString("database"); err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}

	requestType, err := d.readInt("requestType")
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}
	req.RequestType = RequestType(requestType)

	if req.Path, err = d.readString("path"); err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}

	if req.Params, err = d.readStringMap("params"); err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}

	if req.Meta, err = d.readStringMap("meta"); err != nil {
		return nil, fmt.Errorf("request %d: %w", m.ID, err)
	}

	return req, nil
}

// Message encodes the request header and attaches the payloads.
func (r *Request) Message() (*Message, error) {
	e := newHeaderEncoder(requestHeaderFields, TypeRequest)
	e.writeString(r.Database)
	e.writeInt(int(r.RequestType))
	e.writeString(r.Path)
	e.writeStringMap(r.Params)
	e.writeStringMap(r.Meta)

	header, err := e.finish()
	if err != nil {
		return nil, err
	}

	return NewMessage(r.ID, header, r.Payloads...), nil
}
