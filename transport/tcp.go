package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

const (
	// WriteQueueSize is the number of messages a connection queues for writing
	WriteQueueSize = 127
)

var (
	ErrConnClosed = errors.New("connection closed")

	errPeerClosed = errors.New("peer closed the connection")
)

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	opts Options

	numListeners int
	listeners    []*TCPListener

	stats Stats

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	options.setDefaults()

	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if options.Network == "unix" || !options.Reuseport {
		// Only SO_REUSEPORT lets two listeners bind the same address
		numListeners = 1
	}

	return &TCP{
		opts:         options,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		log:          options.Log,
	}
}

func (t *TCP) addr() string {
	if t.opts.Network == "unix" {
		return t.opts.SocketPath
	}

	return net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
}

// Start binds every listener and starts accepting connections. It returns
// once the listeners are bound.
func (t *TCP) Start(parentCtx context.Context) error {
	if _, err := protocol.NewChunkWriter(t.opts.Version, t.opts.MaxChunkBytes); err != nil {
		return err
	}

	if t.opts.Handler == nil {
		return errors.New("transport: no handler")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting listeners",
		zap.String("network", t.opts.Network),
		zap.String("addr", t.addr()),
		zap.Int("count", t.numListeners),
		zap.Stringer("version", t.opts.Version))

	for i := 0; i < t.numListeners; i++ {
		if err := t.startListener(ctx, i); err != nil {
			cancel()
			return multierr.Append(err, t.closeListeners())
		}
	}

	return nil
}

func (t *TCP) listen() (net.Listener, error) {
	if t.opts.Network == "tcp" && t.opts.Reuseport {
		return reuseport.Listen("tcp", t.addr())
	}

	return net.Listen(t.opts.Network, t.addr())
}

func (t *TCP) startListener(ctx context.Context, n int) error {
	l, err := t.listen()
	if err != nil {
		return fmt.Errorf("listener %d: %w", n, err)
	}

	listener := NewTCPListener(ctx, l, t.opts, &t.stats,
		t.log.Named("listener").With(zap.Int("listener", n)))

	t.listeners = append(t.listeners, listener)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Listener stopped with an error", zap.Error(err))
		}
	}()

	return nil
}

// Addrs returns the bound address of every listener.
func (t *TCP) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(t.listeners))
	for _, l := range t.listeners {
		addrs = append(addrs, l.Addr())
	}

	return addrs
}

func (t *TCP) Stats() StatsSnapshot {
	return t.stats.Snapshot()
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// Close immediately closes all listeners and connections.
func (t *TCP) Close() error {
	t.log.Info("Stopping server")
	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	opts     Options
	stats    *Stats
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	closed      bool
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	opts Options,
	stats *Stats,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		opts:        opts,
		stats:       stats,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) Listen() error {
	var loopWaiter sync.WaitGroup
	defer loopWaiter.Wait()

	go func() {
		<-t.ctx.Done()
		if err := t.Close(); err != nil {
			t.log.Warn("Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return err
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		t.stats.accepted.Add(1)

		tcpConn := NewTCPConn(t.ctx, conn, t.opts, t.stats,
			t.log.Named("conn").With(zap.String("remote", conn.RemoteAddr().String())))

		if !t.addConn(tcpConn) {
			conn.Close()
			return nil
		}

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			defer t.removeConn(tcpConn)

			if err := tcpConn.Start(); err != nil {
				tcpConn.log.Info("Connection closed", zap.Error(err))
			}
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

// TCPConn is one client connection. Its read loop owns the reassembly state,
// its write loop owns writes to the socket.
type TCPConn struct {
	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup

	conn   net.Conn
	reader *bufio.Reader

	version   protocol.ProtocolVersion
	limits    protocol.Limits
	assembler *protocol.Assembler
	writer    *protocol.ChunkWriter
	handler   Handler

	idleTimeout time.Duration
	trace       bool

	writeQueue chan [][]byte

	stats *Stats
	log   *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	opts Options,
	stats *Stats,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	// Start validated these already
	writer, _ := protocol.NewChunkWriter(opts.Version, opts.MaxChunkBytes)

	return &TCPConn{
		ctx:         ctx,
		cancel:      cancel,
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, opts.MaxChunkBytes),
		version:     opts.Version,
		limits:      opts.Limits,
		assembler:   protocol.NewAssembler(opts.Version, vpack.MsgpackValidator{}, opts.Limits),
		writer:      writer,
		handler:     opts.Handler,
		idleTimeout: opts.IdleTimeout,
		trace:       opts.Trace,
		writeQueue:  make(chan [][]byte, WriteQueueSize),
		stats:       stats,
		log:         log,
	}
}

// Close tears the connection down. Messages still arriving are dropped.
func (t *TCPConn) Close() error {
	t.cancel()

	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// Start runs the read and write loops until either of them fails or the
// connection is closed.
func (t *TCPConn) Start() error {
	t.stats.open.Add(1)
	defer t.stats.open.Add(-1)

	t.log.Debug("Connection established")

	group, ctx := errgroup.WithContext(t.ctx)

	group.Go(func() error {
		return t.ReadLoop(ctx)
	})

	group.Go(func() error {
		return t.WriteLoop(ctx)
	})

	// Reads block on the socket, closing it is the only way to stop them
	group.Go(func() error {
		<-ctx.Done()
		t.conn.Close()
		return nil
	})

	err := group.Wait()
	t.cancel()
	t.handlers.Wait()

	// Anything half received is gone with the connection
	t.assembler.Reset()

	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (t *TCPConn) ReadLoop(ctx context.Context) error {
	log := t.log.Named("readLoop")

	for {
		if t.idleTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
		}

		chunk, err := protocol.ReadChunk(t.reader, t.version, t.limits)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, io.EOF) {
				log.Debug("Peer closed the connection")
				return errPeerClosed
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Info("Connection idle, closing", zap.Duration("idleTimeout", t.idleTimeout))
				return err
			}

			t.stats.framingErrors.Add(1)
			log.Warn("Failed to read chunk, closing connection", zap.Error(err))
			return err
		}

		t.stats.chunksIn.Add(1)

		if t.trace {
			log.Debug("Read chunk", zap.Stringer("header", chunk.Header))
		}

		msg, err := t.assembler.Feed(chunk)
		if err != nil {
			if protocol.IsFatal(err) {
				t.stats.framingErrors.Add(1)
				log.Warn("Chunk framing lost, closing connection", zap.Error(err))
				return err
			}

			t.stats.invalidMessages.Add(1)
			log.Warn("Dropping invalid message",
				zap.Uint64("messageID", chunk.Header.MessageID),
				zap.Error(err))

			if err := t.send(ctx, ErrorResponse(chunk.Header.MessageID, http.StatusBadRequest, "invalid message encoding")); err != nil {
				log.Warn("Failed to send error response", zap.Error(err))
				if errors.Is(err, ErrConnClosed) {
					return err
				}
			}
			continue
		}

		if msg == nil {
			continue
		}

		t.stats.messagesIn.Add(1)

		t.handlers.Add(1)
		go func() {
			defer t.handlers.Done()
			t.dispatch(ctx, msg)
		}()
	}
}

// dispatch decodes one request and queues the handler's response.
func (t *TCPConn) dispatch(ctx context.Context, msg *protocol.Message) {
	log := t.log.With(zap.Uint64("messageID", msg.ID))

	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedVersion) || errors.Is(err, protocol.ErrUnexpectedRequestMarker) {
			t.stats.droppedMessages.Add(1)
			log.Warn("Dropping request", zap.Error(err))
			return
		}

		t.stats.invalidMessages.Add(1)
		log.Warn("Failed to decode request", zap.Error(err))
		if err := t.send(ctx, ErrorResponse(msg.ID, http.StatusBadRequest, "invalid request header")); err != nil {
			log.Warn("Failed to send error response", zap.Error(err))
		}
		return
	}

	resp := t.handler.ServeVST(ctx, req)
	if resp == nil {
		resp = ErrorResponse(req.ID, http.StatusInternalServerError, "no response")
	}

	resp.ID = req.ID
	if req.RequestType == protocol.Head {
		resp.GenerateBody = false
	}

	if err := t.send(ctx, resp); err != nil {
		log.Warn("Failed to send response", zap.Error(err))
	}
}

// send encodes resp and queues all of its chunks as one write, so the chunks
// of a message are never interleaved with another message's. ctx must be
// the one the loops run under: it is done as soon as either loop stops.
func (t *TCPConn) send(ctx context.Context, resp *protocol.Response) error {
	msg, err := resp.Message()
	if err != nil {
		return err
	}

	chunks, err := t.writer.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case t.writeQueue <- chunks:
		return nil

	case <-ctx.Done():
		return ErrConnClosed
	}
}

func (t *TCPConn) WriteLoop(ctx context.Context) error {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		// These are responses to requests handled by the read loop
		case chunks := <-t.writeQueue:
			if t.idleTimeout > 0 {
				_ = t.conn.SetWriteDeadline(time.Now().Add(t.idleTimeout))
			}

			for _, c := range chunks {
				if _, err := t.conn.Write(c); err != nil {
					log.Warn("Failed to write chunk", zap.Error(err))
					return err
				}
			}

			t.stats.chunksOut.Add(int64(len(chunks)))
			t.stats.messagesOut.Add(1)
		}
	}
}
