package server

import "errors"

// Domain-specific errors for the server package.
var (
	// ErrConnClosed indicates a send on a connection that is shutting down.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrServerClosed indicates Start was called after Close.
	ErrServerClosed = errors.New("server: closed")
)
