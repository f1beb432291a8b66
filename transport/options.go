package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/velocystream/protocol"
)

type Options struct {
	// Network is "tcp" (the default) or "unix"
	Network string

	// Host to listen on
	Host string

	// Port to listen on
	Port int

	// SocketPath is the unix socket to listen on when Network is "unix"
	SocketPath string

	// Reuseport controls setting SO_REUSEPORT, which lets NumListeners
	// listeners share one TCP port
	Reuseport bool

	// Trace will log every chunk header at debug level. This is only useful in local debugging
	Trace bool

	NumListeners int

	// Version is the VelocyStream version spoken on every connection
	Version protocol.ProtocolVersion

	// MaxChunkBytes bounds the chunks we write
	MaxChunkBytes int

	// Limits bounds the chunks and messages we accept
	Limits protocol.Limits

	// IdleTimeout closes connections that have not sent a chunk for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	Handler Handler

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Network == "" {
		o.Network = "tcp"
	}

	if o.Version == 0 {
		o.Version = protocol.VersionCurrent
	}

	if o.MaxChunkBytes == 0 {
		o.MaxChunkBytes = protocol.DefaultMaxChunkBytes
	}

	if o.Limits == (protocol.Limits{}) {
		o.Limits = protocol.DefaultLimits()
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
