package protocol

import "errors"

// Framing errors. Once one of these is returned the position of the next
// chunk in the stream can no longer be trusted, so the connection must go.
var (
	ErrMalformedHeader     = errors.New("chunk header is malformed")
	ErrUnknownMessageID    = errors.New("follow-up chunk for a message that was never started")
	ErrDuplicateFirstChunk = errors.New("first chunk for a message that is already in progress")
	ErrOverLongMessage     = errors.New("message is longer than its declared length")
)

// Message level errors. The framing around the message was sound, only this
// one message is lost.
var (
	ErrInvalidEncoding         = errors.New("message body is not a well formed value sequence")
	ErrUnsupportedVersion      = errors.New("message header declares an unsupported version")
	ErrUnexpectedRequestMarker = errors.New("message header declares an unexpected message type")
)

var (
	// ErrIncompleteChunk is returned by ParseChunk when the buffer does not
	// yet hold a whole chunk. Read more bytes and try again.
	ErrIncompleteChunk = errors.New("buffer holds less than one chunk")

	ErrInvalidMessageID  = errors.New("message id 0 is reserved")
	ErrChunkSizeTooSmall = errors.New("max chunk size cannot hold a chunk header and payload")
	ErrChunkSizeTooLarge = errors.New("max chunk size does not fit the 32 bit length field")
)

// IsFatal reports whether err means the stream framing is lost and the
// connection has to be torn down.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrUnknownMessageID) ||
		errors.Is(err, ErrDuplicateFirstChunk) ||
		errors.Is(err, ErrOverLongMessage)
}
