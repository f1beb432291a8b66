package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/velocystream/protocol"
	"github.com/luma/velocystream/vpack"
)

var (
	ErrNotConnected = errors.New("client is not connected")
	ErrDisconnected = errors.New("connection to the server was lost")
)

type result struct {
	resp *protocol.Response
	err  error
}

type Conn struct {
	opts options

	conn      net.Conn
	reader    *bufio.Reader
	writer    *protocol.ChunkWriter
	assembler *protocol.Assembler

	// writeMu keeps the chunks of one message together on the wire
	writeMu sync.Mutex

	respMu    sync.RWMutex
	respChans map[uint64]chan result
	messageID uint64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func New(log *zap.Logger, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Conn{
		opts:      o,
		respChans: make(map[uint64]chan result),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Connect dials the server and starts reading responses. network is "tcp" or
// "unix".
func (c *Conn) Connect(ctx context.Context, network, addr string) error {
	writer, err := protocol.NewChunkWriter(c.opts.version, c.opts.maxChunkBytes)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: c.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = writer
	c.assembler = protocol.NewAssembler(c.opts.version, vpack.MsgpackValidator{}, c.opts.limits)

	go c.readLoop()

	return nil
}

// Close disconnects. Requests still waiting for a response fail with
// ErrDisconnected.
func (c *Conn) Close() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.shutdown(nil)
	return nil
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection went away, nil for a Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		close(c.done)
		c.conn.Close()
	})
}

// Do sends req and waits for its response. req.ID is assigned by the
// connection.
func (c *Conn) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	messageID, respChan := c.createResponseChan()
	defer c.destroyResponseChan(messageID)

	req.ID = messageID

	msg, err := req.Message()
	if err != nil {
		return nil, err
	}

	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case r, ok := <-respChan:
		if !ok {
			return nil, ErrDisconnected
		}
		return r.resp, r.err

	case <-c.done:
		return nil, ErrDisconnected

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(msg *protocol.Message) error {
	chunks, err := c.writer.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, chunk := range chunks {
		if _, err := c.conn.Write(chunk); err != nil {
			c.shutdown(err)
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}

	return nil
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	defer func() {
		c.failPending()
		c.assembler.Reset()
	}()

	for {
		chunk, err := protocol.ReadChunk(c.reader, c.opts.version, c.opts.limits)
		if err != nil {
			select {
			case <-c.done:
				// Closed by us
				return
			default:
			}

			if !errors.Is(err, io.EOF) {
				log.Warn("Failed to read chunk", zap.Error(err))
			}

			c.shutdown(err)
			return
		}

		msg, err := c.assembler.Feed(chunk)
		if err != nil {
			if protocol.IsFatal(err) {
				log.Warn("Chunk framing lost, disconnecting", zap.Error(err))
				c.shutdown(err)
				return
			}

			// Only this one response is lost
			c.sendToResponseChan(chunk.Header.MessageID, result{err: err})
			continue
		}

		if msg == nil {
			continue
		}

		resp, err := protocol.DecodeResponse(msg)
		if err != nil {
			log.Warn("Failed to decode response",
				zap.Uint64("messageID", msg.ID),
				zap.Error(err))
		}

		c.sendToResponseChan(msg.ID, result{resp: resp, err: err})
	}
}

func (c *Conn) createResponseChan() (uint64, <-chan result) {
	respChan := make(chan result, 1)

	c.respMu.Lock()
	defer c.respMu.Unlock()

	for {
		if c.messageID < math.MaxUint64 {
			c.messageID++
		} else {
			// Wrap around instead of overflowing, 0 is never a valid id
			c.messageID = 1
		}

		// Never reuse an id that is still waiting for its response
		if _, taken := c.respChans[c.messageID]; !taken {
			break
		}
	}

	c.respChans[c.messageID] = respChan
	return c.messageID, respChan
}

func (c *Conn) sendToResponseChan(messageID uint64, r result) {
	c.respMu.RLock()
	respChan, ok := c.respChans[messageID]
	c.respMu.RUnlock()

	if !ok {
		c.log.Debug("Response for a request nobody is waiting for",
			zap.Uint64("messageID", messageID))
		return
	}

	select {
	case respChan <- r:
	default:
	}
}

func (c *Conn) destroyResponseChan(messageID uint64) {
	c.respMu.Lock()
	delete(c.respChans, messageID)
	c.respMu.Unlock()
}

// failPending wakes every request still waiting for a response.
func (c *Conn) failPending() {
	c.respMu.RLock()
	defer c.respMu.RUnlock()

	for _, respChan := range c.respChans {
		select {
		case respChan <- result{err: ErrDisconnected}:
		default:
		}
	}
}
