package protocol

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 for the accept key
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net/textproto"
	"strings"
)

// websocketGUID is appended to the client key before hashing (RFC 6455 §1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// handshakeRequestLine is the only upgrade request line accepted.
const handshakeRequestLine = "GET / HTTP/1.1"

// Frame header bits and opcodes.
const (
	finBit      byte = 0x80
	rsvBits     byte = 0x70
	opcodeMask  byte = 0x0F
	maskBit     byte = 0x80
	lengthMask  byte = 0x7F
	opText      byte = 0x1
	opClose     byte = 0x8
	len16Marker byte = 126
	len64Marker byte = 127

	maxShortLength = 125
	maxLength16    = 0xFFFF
)

// Mode is the framing of a connection's messages.
type Mode int

// Connection modes.
const (
	ModeLine Mode = iota
	ModeWebSocket
)

// String returns "line" or "websocket".
func (m Mode) String() string {
	if m == ModeWebSocket {
		return "websocket"
	}
	return "line"
}

// ReadHandshake consumes an HTTP upgrade request and returns its
// Sec-WebSocket-Key.
//
// Only the request line "GET / HTTP/1.1" is accepted. The other upgrade
// headers are not checked; the key is all the response needs. The whole
// request is consumed whether or not it is accepted.
func ReadHandshake(r *bufio.Reader) (string, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadHandshake, err)
	}

	// Headers are consumed even for a rejected request line, so the next
	// read starts after the request.
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadHandshake, err)
	}
	if line != handshakeRequestLine {
		return "", fmt.Errorf("%w: request line %q", ErrBadHandshake, line)
	}

	key := strings.TrimSpace(header.Get("Sec-Websocket-Key"))
	if key == "" {
		return "", fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrBadHandshake)
	}
	return key, nil
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New() //nolint:gosec // See import
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandshakeResponse returns the 101 response completing the upgrade.
func HandshakeResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n")
}

// ReadFrame reads one client frame and returns its unmasked payload.
//
// Frame layout:
//
//	Byte 0:    FIN(1) RSV(3) opcode(4)
//	Byte 1:    MASK(1) length(7)
//	126:       2-byte big-endian length follows
//	127:       8-byte big-endian length follows
//	4 bytes:   masking key, when MASK is set
//	payload:   byte i is XORed with mask[i%4]
//
// Only complete masked text frames are accepted. Other frames are read in
// full and reported as ErrProtocolViolation, except close frames
// (ErrCloseFrame). A payload longer than maxPayload returns
// ErrFrameTooLarge without reading it.
func ReadFrame(r *bufio.Reader, maxPayload int) ([]byte, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}

	fin := head[0]&finBit != 0
	rsv := head[0] & rsvBits
	opcode := head[0] & opcodeMask
	masked := head[1]&maskBit != 0

	length, err := readLength(r, head[1]&lengthMask)
	if err != nil {
		return nil, err
	}
	if length > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var mask [4]byte
	if masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= mask[i%4]
		}
	}

	switch {
	case opcode == opClose:
		return nil, ErrCloseFrame
	case !fin:
		return nil, fmt.Errorf("%w: fragmented frame", ErrProtocolViolation)
	case rsv != 0:
		return nil, fmt.Errorf("%w: reserved bits set", ErrProtocolViolation)
	case opcode != opText:
		return nil, fmt.Errorf("%w: opcode 0x%x", ErrProtocolViolation, opcode)
	case !masked:
		return nil, fmt.Errorf("%w: unmasked client frame", ErrProtocolViolation)
	}
	return payload, nil
}

func readLength(r io.Reader, short byte) (uint64, error) {
	switch short {
	case len16Marker:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(b[:])), nil
	case len64Marker:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(b[:]), nil
	default:
		return uint64(short), nil
	}
}

// EncodeFrame wraps payload in a single unmasked text frame.
func EncodeFrame(payload []byte) []byte {
	n := len(payload)

	var frame []byte
	switch {
	case n <= maxShortLength:
		frame = make([]byte, 2, 2+n)
		frame[1] = byte(n)
	case n <= maxLength16:
		frame = make([]byte, 4, 4+n)
		frame[1] = len16Marker
		binary.BigEndian.PutUint16(frame[2:], uint16(n))
	default:
		frame = make([]byte, 10, 10+n)
		frame[1] = len64Marker
		binary.BigEndian.PutUint64(frame[2:], uint64(n))
	}
	frame[0] = finBit | opText

	return append(frame, payload...)
}

// Encode serialises v for a connection in the given mode.
func Encode(mode Mode, v any) ([]byte, error) {
	line, err := FormatLine(v)
	if err != nil {
		return nil, err
	}
	if mode == ModeWebSocket {
		return EncodeFrame(line), nil
	}
	return line, nil
}
