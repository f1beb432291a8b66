package protocol

// This package implements the chunk framing of VelocyStream, the binary
// protocol our clients and servers use to exchange requests and responses
// over a single TCP or unix socket connection.
//
// The protocol aims to
//
// - multiplex many requests and responses on one connection
// - carry messages of any size in bounded chunks
// - never trust a length it has not checked against the buffer it came in
//
// - `Message` - A header value followed by zero or more payload values,
//               addressed by a 64bit message ID chosen by the sender.
// - `Chunk`   - One framed slice of a message.
// - `Value`   - A self-describing encoded datum, see package vpack.
//
// === Chunk layout
//
// All integers are little-endian.
//
//   ```
//   totalLength:u32 chunkX:u32 messageId:u64 [messageLength:u64] payload
//   ```
//
// - `totalLength` is the size of the chunk including its header
// - `chunkX` is `(n << 1) | isFirst`. On the first chunk `n` is the number
//   of chunks in the message, on every following chunk it is that chunk's
//   sequence number, starting at 1.
// - `messageLength` is the size of the whole message
//
// Whether `messageLength` is present depends on the protocol version
//
// - 1.1: on every first chunk, never on follow-ups
// - 1.0: on the first chunk of a message with more than one chunk only. A
//        single chunk 1.0 message is exactly as long as its one payload.
//
// === Message body
//
// The payloads of a message's chunks, concatenated in order, are the header
// value immediately followed by the payload values. There are no separators
// or length prefixes, every value knows its own size.
//
// Chunks of different messages may interleave on a connection, but the
// chunks of one message are always sent in order and a message ID is never
// reused while a message with that ID is still being sent.
//
// === Request header
//
//   ```
//   [version, 1, database, requestType, path, params, meta]
//   ```
//
// === Response header
//
//   ```
//   [version, 2, responseCode, meta]
//   ```
//
// The only version is 1. A response sent without its body (a HEAD request)
// reports the body size in the `content-length` meta entry.
//
// === Errors
//
// A broken chunk header, a follow-up chunk for an unknown message, a second
// first chunk for a message in progress or more bytes than a message declared
// mean the stream can no longer be followed. See IsFatal. A message whose
// bytes are not a valid value sequence, or whose header has the wrong version
// or type, is dropped on its own.
