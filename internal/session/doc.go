// Package session tracks the live connections of the sync server.
//
// A Session is created when a connection is accepted and deleted when it
// ends. Login binds it to a device and user once; the binding never
// changes afterwards. The session also owns the connection's change
// subscription, which Delete closes.
//
// The Registry is safe for concurrent use and keeps no package-level state,
// so tests and multiple servers can each hold their own.
package session
