// Package server runs the Kronos sync listener.
//
// Each accepted TCP connection gets its own goroutine and session. The
// connection starts in line mode; a request beginning with "GET" is taken
// as a WebSocket upgrade, after which messages are read as frames.
//
// Outbound messages from the request path and from the change relay are
// encoded and queued on one bounded channel per connection, drained by a
// single writer goroutine, so responses and pushes never interleave on
// the wire.
//
// The server follows the same lifecycle pattern as other components:
//
//	srv, err := server.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package server
