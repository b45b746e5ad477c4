// Package engine executes sync requests for connected sessions.
//
// Dispatch takes one decoded protocol.Message, runs it against the store
// and the session registry, and writes exactly one response envelope to
// the session's Outbox. Failures become {"success":false,"error":<code>}
// envelopes; the connection is never closed because a request failed.
//
// A successful login opens a change subscription for the user and starts
// a relay goroutine that forwards every change, including the session's
// own, to the same Outbox as push envelopes. The relay ends when the
// subscription is closed by CloseSession. If the subscription fails or the
// Outbox rejects a push, the relay aborts the connection through
// Outbox.Abort.
//
// Every mutation stores the client-supplied version as the user's version
// once the change has been written. Versions are overwritten, never
// compared.
package engine
