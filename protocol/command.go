package protocol

import (
	"fmt"
	"strings"
)

// HeaderVersion is the only header layout version understood.
const HeaderVersion = 1

// MessageType is the second element of every header value.
type MessageType int

const (
	TypeRequest  MessageType = 1
	TypeResponse MessageType = 2
)

// RequestType is the REST verb of a request.
type RequestType int

const (
	Delete  RequestType = 0
	Get     RequestType = 1
	Post    RequestType = 2
	Put     RequestType = 3
	Head    RequestType = 4
	Patch   RequestType = 5
	Options RequestType = 6
)

var requestTypeNames = map[RequestType]string{
	Delete:  "DELETE",
	Get:     "GET",
	Post:    "POST",
	Put:     "PUT",
	Head:    "HEAD",
	Patch:   "PATCH",
	Options: "OPTIONS",
}

func (r RequestType) String() string {
	if name, ok := requestTypeNames[r]; ok {
		return name
	}

	return fmt.Sprintf("RequestType(%d)", int(r))
}

func ParseRequestType(s string) (RequestType, error) {
	upper := strings.ToUpper(s)
	for t, name := range requestTypeNames {
		if name == upper {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown request type %q", s)
}
