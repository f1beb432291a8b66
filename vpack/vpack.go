// Package vpack holds the self-describing value type carried by VelocyStream
// messages. A message body is a run of back-to-back values with no length
// prefixes between them, so everything above this package only ever needs two
// things from a value: how many bytes it occupies and whether it is well formed.
//
// The concrete encoding used here is MessagePack. The chunking layer never
// looks inside a value; it talks to a Validator, so swapping the encoding means
// providing another Validator.
package vpack

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxDepth is the deepest nesting of arrays and maps a value may have.
const MaxDepth = 128

var (
	ErrEmpty         = errors.New("no value in empty range")
	ErrInvalidValue  = errors.New("value is not well formed")
	ErrInvalidLength = errors.New("value does not fill the range")
	ErrTooDeep       = errors.New("value nests too deeply")
)

// Slice is a non-owning view of exactly one encoded value.
type Slice []byte

// ByteSize returns the number of bytes the value occupies.
func (s Slice) ByteSize() int {
	return len(s)
}

// Decode unmarshals the value into v.
func (s Slice) Decode(v interface{}) error {
	return msgpack.Unmarshal(s, v)
}

// Interface decodes the value into its generic Go form (maps, slices,
// strings, numbers).
func (s Slice) Interface() (interface{}, error) {
	var v interface{}
	if err := msgpack.Unmarshal(s, &v); err != nil {
		return nil, err
	}

	return v, nil
}

func (s Slice) String() string {
	v, err := s.Interface()
	if err != nil {
		return fmt.Sprintf("<invalid %d bytes>", len(s))
	}

	return fmt.Sprintf("%v", v)
}

// Validator checks that data starts with one well formed value and returns
// its byte size. With allowSubPart the value may be a strict prefix of data,
// otherwise it must span all of data. Implementations must never look past
// len(data).
type Validator interface {
	Validate(data []byte, allowSubPart bool) (int, error)
}

// MsgpackValidator validates MessagePack encoded values.
type MsgpackValidator struct{}

var _ Validator = MsgpackValidator{}

func (MsgpackValidator) Validate(data []byte, allowSubPart bool) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmpty
	}

	// bytes.Reader is a ByteScanner, so the decoder reads from it directly
	// and never buffers ahead of the value it is skipping.
	r := bytes.NewReader(data)
	if err := skipValue(msgpack.NewDecoder(r), 0); err != nil {
		if errors.Is(err, ErrTooDeep) {
			return 0, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	size := len(data) - r.Len()
	if size <= 0 {
		return 0, ErrInvalidValue
	}

	if !allowSubPart && size != len(data) {
		return 0, fmt.Errorf("%w: value is %d bytes, range is %d",
			ErrInvalidLength, size, len(data))
	}

	return size, nil
}

// skipValue walks one value, descending into arrays and maps itself so the
// nesting depth stays bounded. Scalars are left to the decoder.
func skipValue(d *msgpack.Decoder, depth int) error {
	c, err := d.PeekCode()
	if err != nil {
		return err
	}

	var n int
	switch {
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		if depth >= MaxDepth {
			return ErrTooDeep
		}
		if n, err = d.DecodeArrayLen(); err != nil {
			return err
		}

	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		if depth >= MaxDepth {
			return ErrTooDeep
		}
		if n, err = d.DecodeMapLen(); err != nil {
			return err
		}
		n *= 2

	default:
		return d.Skip()
	}

	for i := 0; i < n; i++ {
		if err := skipValue(d, depth+1); err != nil {
			return err
		}
	}

	return nil
}

// Marshal encodes v as a single value. Map keys are sorted so equal inputs
// give equal bytes.
func Marshal(v interface{}) (Slice, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return Slice(buf.Bytes()), nil
}

// MustMarshal is Marshal for values that cannot fail to encode.
func MustMarshal(v interface{}) Slice {
	s, err := Marshal(v)
	if err != nil {
		panic(err)
	}

	return s
}
