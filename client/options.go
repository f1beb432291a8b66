package client

import (
	"time"

	"github.com/luma/velocystream/protocol"
)

type options struct {
	version       protocol.ProtocolVersion
	maxChunkBytes int
	limits        protocol.Limits
	dialTimeout   time.Duration
}

// Option configures a Conn.
type Option func(*options)

// VersionOption sets the VelocyStream version. It must match the server's.
func VersionOption(v protocol.ProtocolVersion) Option {
	return func(o *options) {
		o.version = v
	}
}

// MaxChunkBytesOption bounds the chunks the client writes.
func MaxChunkBytesOption(n int) Option {
	return func(o *options) {
		o.maxChunkBytes = n
	}
}

// LimitsOption bounds the chunks and messages the client accepts.
func LimitsOption(l protocol.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

func DialTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

func defaultOptions() options {
	return options{
		version:       protocol.VersionCurrent,
		maxChunkBytes: protocol.DefaultMaxChunkBytes,
		limits:        protocol.DefaultLimits(),
		dialTimeout:   5 * time.Second,
	}
}
