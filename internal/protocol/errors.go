package protocol

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the protocol package.
var (
	// ErrDecodeFailure is wrapped by every error caused by unparseable input.
	ErrDecodeFailure = errors.New("protocol: decode failure")

	// ErrUnknownType indicates a missing or unrecognised "type" field.
	ErrUnknownType = fmt.Errorf("%w: unknown message type", ErrDecodeFailure)

	// ErrBadHandshake indicates an upgrade request that is not exactly
	// "GET / HTTP/1.1" with a Sec-WebSocket-Key header.
	ErrBadHandshake = fmt.Errorf("%w: bad websocket handshake", ErrDecodeFailure)

	// ErrLineTooLong indicates a request line longer than the configured
	// limit. The stream cannot be resynchronised.
	ErrLineTooLong = errors.New("protocol: line too long")

	// ErrProtocolViolation indicates a frame this server does not accept
	// (fragmented, non-text, unmasked, or with RSV bits set). The frame has
	// been consumed and the next one can be read.
	ErrProtocolViolation = errors.New("protocol: websocket protocol violation")

	// ErrCloseFrame indicates the client sent a close frame.
	ErrCloseFrame = errors.New("protocol: websocket close frame")

	// ErrFrameTooLarge indicates a frame payload longer than the configured
	// limit. The payload is not read, so the stream is unusable.
	ErrFrameTooLarge = errors.New("protocol: websocket frame too large")
)
