package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/soywod/kronos.server/internal/infrastructure/config"
	"github.com/soywod/kronos.server/internal/infrastructure/logging"
	"github.com/soywod/kronos.server/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Database is the subset of the database handle the API reads.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// ConnectionChecker reports whether an optional backend is reachable.
// Both the MQTT and InfluxDB clients satisfy it.
type ConnectionChecker interface {
	IsConnected() bool
}

// SessionCounter reports live session counts.
type SessionCounter interface {
	Stats() session.Stats
}

// ConnectionCounter reports the number of open sync connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// FeedStater reports activity feed delivery counts.
type FeedStater interface {
	Published() int64
	Dropped() int64
}

// Deps holds the dependencies required by the API server.
// MQTT, InfluxDB and Feed are optional; leave them nil when disabled.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	DB          Database
	Sessions    SessionCounter
	Connections ConnectionCounter
	MQTT        ConnectionChecker
	InfluxDB    ConnectionChecker
	Feed        FeedStater
	Version     string
}

// Server is the admin HTTP server.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	db          Database
	sessions    SessionCounter
	connections ConnectionCounter
	mqtt        ConnectionChecker
	influx      ConnectionChecker
	feed        FeedStater
	version     string
	startTime   time.Time
	server      *http.Server
	listener    net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		db:          deps.DB,
		sessions:    deps.Sessions,
		connections: deps.Connections,
		mqtt:        deps.MQTT,
		influx:      deps.InfluxDB,
		feed:        deps.Feed,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	s.listener = ln

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
