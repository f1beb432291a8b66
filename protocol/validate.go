package protocol

import (
	"fmt"

	"github.com/luma/velocystream/vpack"
)

// ValidateMessage proves buf is exactly one header value followed by zero or
// more payload values. The returned slices are views into buf.
func ValidateMessage(v vpack.Validator, buf []byte) (vpack.Slice, []vpack.Slice, error) {
	header, err := ValidateHeader(v, buf)
	if err != nil {
		return nil, nil, err
	}

	var payloads []vpack.Slice
	for cursor := header.ByteSize(); cursor < len(buf); {
		size, err := v.Validate(buf[cursor:], true)
		if err != nil {
			return nil, nil, fmt.Errorf("payload %d at offset %d: %w: %w",
				len(payloads), cursor, err, ErrInvalidEncoding)
		}

		if size <= 0 || size > len(buf)-cursor {
			return nil, nil, fmt.Errorf("payload %d at offset %d claims %d of %d bytes: %w",
				len(payloads), cursor, size, len(buf)-cursor, ErrInvalidEncoding)
		}

		payloads = append(payloads, vpack.Slice(buf[cursor:cursor+size:cursor+size]))
		cursor += size
	}

	return header, payloads, nil
}

// ValidateHeader validates only the leading header value of buf, which may be
// followed by anything. Routing can start from it before the body is known
// to be complete.
func ValidateHeader(v vpack.Validator, buf []byte) (vpack.Slice, error) {
	size, err := v.Validate(buf, true)
	if err != nil {
		return nil, fmt.Errorf("header: %w: %w", err, ErrInvalidEncoding)
	}

	if size <= 0 || size > len(buf) {
		return nil, fmt.Errorf("header claims %d of %d bytes: %w", size, len(buf), ErrInvalidEncoding)
	}

	return vpack.Slice(buf[:size:size]), nil
}
