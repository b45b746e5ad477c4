package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soywod/kronos.server/internal/engine"
	"github.com/soywod/kronos.server/internal/infrastructure/logging"
	"github.com/soywod/kronos.server/internal/protocol"
)

// teardownTimeout bounds the store calls made while closing a session.
const teardownTimeout = 5 * time.Second

// conn is one accepted connection. It implements engine.Outbox.
type conn struct {
	srv       *Server
	nc        net.Conn
	r         *bufio.Reader
	logger    *logging.Logger
	sessionID string

	mode atomic.Int32

	out        chan []byte
	done       chan struct{}
	aborted    chan struct{}
	writerDone chan struct{}

	abortOnce sync.Once
	closeOnce sync.Once
}

var _ engine.Outbox = (*conn)(nil)

// newConn opens the connection's session.
func newConn(s *Server, nc net.Conn) *conn {
	sessionID := s.engine.OpenSession()
	return &conn{
		srv:        s,
		nc:         nc,
		r:          bufio.NewReader(nc),
		logger:     s.logger.With("remote_addr", nc.RemoteAddr().String(), "session_id", sessionID),
		sessionID:  sessionID,
		out:        make(chan []byte, s.sync.OutboxSize),
		done:       make(chan struct{}),
		aborted:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *conn) currentMode() protocol.Mode {
	return protocol.Mode(c.mode.Load())
}

// Send encodes v for the connection's current mode and queues it. It blocks
// while the queue is full and fails once the connection is aborted or
// shutting down.
func (c *conn) Send(v any) error {
	b, err := protocol.Encode(c.currentMode(), v)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *conn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case <-c.aborted:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-c.aborted:
		return ErrConnClosed
	}
}

// Abort closes the socket, which ends the reader loop and with it the
// connection, and releases every producer blocked on the queue. Teardown
// itself always runs on the serve goroutine.
func (c *conn) Abort(err error) {
	c.abortOnce.Do(func() {
		if !errors.Is(err, ErrServerClosed) {
			c.logger.Warn("aborting connection", "error", err)
		}
		close(c.aborted)
		c.nc.Close() //nolint:errcheck // Reader sees the error and tears down
	})
}

func (c *conn) serve(ctx context.Context) {
	c.logger.Debug("connection opened")
	c.srv.metrics.WriteConnectionMetric("open", protocol.ModeLine.String())

	go c.writeLoop()
	defer c.teardown(ctx)

	for {
		payload, err := c.readMessage()
		if err != nil {
			if !c.recoverable(err) {
				return
			}
			continue
		}
		if payload == nil {
			continue
		}

		msg, err := protocol.ParseLine(payload)
		if err != nil {
			c.srv.engine.Reject(c.sessionID, err, c)
			continue
		}
		c.srv.engine.Dispatch(ctx, c.sessionID, msg, c)
	}
}

// readMessage returns the next request payload, or nil after a handshake.
func (c *conn) readMessage() ([]byte, error) {
	if c.currentMode() == protocol.ModeWebSocket {
		return protocol.ReadFrame(c.r, c.srv.sync.MaxMessageSize)
	}

	// Blank lines are skipped here rather than in ReadLine so that an
	// upgrade request after them is still recognized.
	for {
		first, err := c.r.Peek(1)
		if err != nil {
			return nil, err
		}
		switch first[0] {
		case '\r', '\n', ' ', '\t':
			c.r.Discard(1) //nolint:errcheck // Byte already buffered by Peek
		case 'G':
			return nil, c.handshake()
		default:
			return protocol.ReadLine(c.r, c.srv.sync.MaxMessageSize)
		}
	}
}

func (c *conn) handshake() error {
	key, err := protocol.ReadHandshake(c.r)
	if err != nil {
		return err
	}

	if err := c.enqueue(protocol.HandshakeResponse(key)); err != nil {
		return err
	}
	c.mode.Store(int32(protocol.ModeWebSocket))
	if err := c.srv.engine.Upgrade(c.sessionID); err != nil {
		return err
	}

	c.logger.Debug("connection upgraded to websocket")
	c.srv.metrics.WriteConnectionMetric("upgrade", protocol.ModeWebSocket.String())
	return nil
}

// recoverable logs a read error and reports whether the loop can go on.
func (c *conn) recoverable(err error) bool {
	switch {
	case errors.Is(err, protocol.ErrBadHandshake):
		// No response: the client speaks HTTP, not the sync protocol.
		c.logger.Debug("websocket handshake rejected", "error", err)
		return true
	case errors.Is(err, protocol.ErrProtocolViolation):
		c.logger.Debug("websocket frame skipped", "error", err)
		return true
	case errors.Is(err, protocol.ErrLineTooLong), errors.Is(err, protocol.ErrFrameTooLarge):
		c.logger.Warn("message too large", "limit", c.srv.sync.MaxMessageSize)
		c.srv.engine.Reject(c.sessionID, protocol.ErrDecodeFailure, c)
		return false
	case errors.Is(err, protocol.ErrCloseFrame),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return false
	default:
		c.logger.Debug("read failed", "error", err)
		return false
	}
}

// writeLoop is the connection's only writer.
func (c *conn) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case b := <-c.out:
			if err := c.write(b); err != nil {
				c.Abort(err)
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain flushes whatever is still queued when the connection ends.
func (c *conn) drain() {
	for {
		select {
		case b := <-c.out:
			if err := c.write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(b []byte) error {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.nc.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
	_, err := c.nc.Write(b)
	return err
}

// teardown runs once, on the serve goroutine, when the reader loop ends.
func (c *conn) teardown(ctx context.Context) {
	c.closeOnce.Do(func() {
		// The device must be marked disconnected even during shutdown.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()

		transport := c.currentMode().String()
		c.srv.engine.CloseSession(ctx, c.sessionID)

		close(c.done)
		<-c.writerDone
		c.nc.Close() //nolint:errcheck // Connection is finished

		c.logger.Debug("connection closed")
		c.srv.metrics.WriteConnectionMetric("close", transport)
		c.srv.untrack(c)
	})
}
