package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/soywod/kronos.server/internal/engine"
	"github.com/soywod/kronos.server/internal/infrastructure/config"
	"github.com/soywod/kronos.server/internal/infrastructure/logging"
)

// acceptBackoff is the pause after a failed Accept that is not a shutdown.
const acceptBackoff = 50 * time.Millisecond

// ConnectionMetrics receives connection lifecycle events.
type ConnectionMetrics interface {
	WriteConnectionMetric(event, transport string)
}

type noopMetrics struct{}

func (noopMetrics) WriteConnectionMetric(string, string) {}

// Deps holds the dependencies required by the sync server.
type Deps struct {
	Config  config.ServerConfig
	Sync    config.SyncConfig
	Engine  *engine.Engine
	Logger  *logging.Logger
	Metrics ConnectionMetrics // optional
}

// Server accepts sync connections and serves each on its own goroutine.
//
// All methods are safe for concurrent use.
type Server struct {
	cfg     config.ServerConfig
	sync    config.SyncConfig
	engine  *engine.Engine
	logger  *logging.Logger
	metrics ConnectionMetrics

	// writeTimeout is the deadline of each socket write.
	writeTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a sync server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sync.MaxMessageSize < 1 || deps.Sync.OutboxSize < 1 || deps.Sync.WriteTimeout < 1 {
		return nil, fmt.Errorf("sync limits must be positive")
	}

	m := deps.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Server{
		cfg:          deps.Config,
		sync:         deps.Sync,
		engine:       deps.Engine,
		logger:       deps.Logger,
		metrics:      m,
		writeTimeout: deps.Sync.GetWriteTimeout(),
		conns:        make(map[*conn]struct{}),
	}, nil
}

// Start listens on the configured address and accepts connections in the
// background until Close is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close() //nolint:errcheck // Never served
		return ErrServerClosed
	}
	s.listener = ln
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("sync server listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(srvCtx, ln)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, tears down every live connection (marking their
// devices disconnected) and waits for them to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Abort(ErrServerClosed)
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.wg.Wait()
	if cancel != nil {
		cancel()
	}

	s.logger.Info("sync server stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing listener: %w", err)
	}
	return nil
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}

		c := newConn(s, nc)
		if !s.track(c) {
			s.engine.CloseSession(context.WithoutCancel(ctx), c.sessionID)
			nc.Close() //nolint:errcheck // Shutting down
			return
		}
		go c.serve(ctx)
	}
}

// track registers c, unless the server is closing.
func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
