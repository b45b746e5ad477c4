// Package protocol implements the Kronos sync wire format.
//
// A connection starts in line mode: each request is one JSON object
// terminated by a newline. A client may instead open with an HTTP/1.1
// upgrade GET, after which every message travels as a single masked
// WebSocket text frame (client to server) or unmasked text frame (server
// to client). The JSON inside is identical in both modes.
//
// Requests decode into the closed Message set (Login, ReadAll, WriteAll,
// Create, Update, Delete). Responses are built from the envelope types
// and written with Encode, which picks the framing for the connection's
// Mode.
//
// Fragmentation and control frames other than close are not supported.
package protocol
