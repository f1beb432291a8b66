package protocol

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/luma/velocystream/vpack"
)

// headerDecoder wraps the msgpack decoder for positional header arrays and
// turns every failure into ErrInvalidEncoding.
type headerDecoder struct {
	d *msgpack.Decoder
}

func newHeaderDecoder(header vpack.Slice) *headerDecoder {
	return &headerDecoder{d: msgpack.NewDecoder(bytes.NewReader(header))}
}

// begin reads the array length and the version and type elements, which are
// checked before anything else in the header is looked at.
func (h *headerDecoder) begin(want MessageType) (int, error) {
	n, err := h.d.DecodeArrayLen()
	if err != nil || n < 2 {
		return 0, fmt.Errorf("header is not an array: %w", ErrInvalidEncoding)
	}

	version, err := h.readInt("version")
	if err != nil {
		return 0, err
	}
	if version != HeaderVersion {
		return 0, fmt.Errorf("version %d: %w", version, ErrUnsupportedVersion)
	}

	typ, err := h.readInt("type")
	if err != nil {
		return 0, err
	}
	if MessageType(typ) != want {
		return 0, fmt.Errorf("type %d, want %d: %w", typ, want, ErrUnexpectedRequestMarker)
	}

	return n, nil
}

func (h *headerDecoder) readInt(field string) (int, error) {
	v, err := h.d.DecodeInt()
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", field, err, ErrInvalidEncoding)
	}

	return v, nil
}

func (h *headerDecoder) readString(field string) (string, error) {
	v, err := h.d.DecodeString()
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", field, err, ErrInvalidEncoding)
	}

	return v, nil
}

func (h *headerDecoder) readStringMap(field string) (map[string]string, error) {
	n, err := h.d.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", field, err, ErrInvalidEncoding)
	}

	if n < 0 {
		n = 0
	}

	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := h.readString(field + " key")
		if err != nil {
			return nil, err
		}

		v, err := h.readString(field + "[" + k + "]")
		if err != nil {
			return nil, err
		}

		m[k] = v
	}

	return m, nil
}

// headerEncoder writes positional header arrays.
type headerEncoder struct {
	buf bytes.Buffer
	e   *msgpack.Encoder
	err error
}

func newHeaderEncoder(n int, typ MessageType) *headerEncoder {
	h := &headerEncoder{}
	h.e = msgpack.NewEncoder(&h.buf)

	h.check(h.e.EncodeArrayLen(n))
	h.writeInt(HeaderVersion)
	h.writeInt(int(typ))

	return h
}

func (h *headerEncoder) check(err error) {
	if h.err == nil {
		h.err = err
	}
}

func (h *headerEncoder) writeInt(v int) {
	h.check(h.e.EncodeInt(int64(v)))
}

func (h *headerEncoder) writeString(v string) {
	h.check(h.e.EncodeString(v))
}

func (h *headerEncoder) writeStringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h.check(h.e.EncodeMapLen(len(keys)))
	for _, k := range keys {
		h.writeString(k)
		h.writeString(m[k])
	}
}

func (h *headerEncoder) finish() (vpack.Slice, error) {
	if h.err != nil {
		return nil, h.err
	}

	return vpack.Slice(h.buf.Bytes()), nil
}
