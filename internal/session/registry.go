package session

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soywod/kronos.server/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Session is a snapshot of one connection's state.
type Session struct {
	ID        string
	DeviceID  string
	UserID    string
	Transport protocol.Mode
	CreatedAt time.Time
}

// Authenticated reports whether the session is bound to a device.
func (s Session) Authenticated() bool {
	return s.DeviceID != ""
}

// entry is the registry's mutable record behind a Session.
type entry struct {
	Session
	subscription io.Closer
}

// Stats counts the live sessions.
type Stats struct {
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	WebSocket     int `json:"websocket"`
}

// Registry holds every live session.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	logger   Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Create registers a new unauthenticated line-mode session and returns its id.
func (r *Registry) Create() string {
	id := uuid.NewString()

	r.mu.Lock()
	r.sessions[id] = &entry{Session: Session{ID: id, Transport: protocol.ModeLine, CreatedAt: r.now()}}
	r.mu.Unlock()

	r.logger.Debug("session created", "session_id", id)
	return id
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return e.Session, nil
}

// BindDevice records the device and user the session logged in as.
// Returns ErrAlreadyBound if the session is already bound.
func (r *Registry) BindDevice(id, deviceID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if e.DeviceID != "" {
		return ErrAlreadyBound
	}

	e.DeviceID = deviceID
	e.UserID = userID
	return nil
}

// SetTransport records the framing negotiated for the session.
func (r *Registry) SetTransport(id string, mode protocol.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.Transport = mode
	return nil
}

// AttachSubscription hands ownership of sub to the session. On any error
// sub is closed before returning, so the caller never leaks it.
func (r *Registry) AttachSubscription(id string, sub io.Closer) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	var err error
	switch {
	case !ok:
		err = ErrSessionNotFound
	case e.subscription != nil:
		err = ErrSubscriptionExists
	default:
		e.subscription = sub
	}
	r.mu.Unlock()

	if err != nil {
		closeQuietly(sub, r.logger, id)
	}
	return err
}

// Delete removes the session, closes its subscription and returns the
// device it was bound to ("" if it never logged in).
func (r *Registry) Delete(id string) (string, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return "", ErrSessionNotFound
	}

	if e.subscription != nil {
		closeQuietly(e.subscription, r.logger, id)
	}
	r.logger.Debug("session deleted", "session_id", id, "device_id", e.DeviceID)
	return e.DeviceID, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats counts live sessions by state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.sessions)}
	for _, e := range r.sessions {
		if e.Authenticated() {
			s.Authenticated++
		}
		if e.Transport == protocol.ModeWebSocket {
			s.WebSocket++
		}
	}
	return s
}

func closeQuietly(c io.Closer, logger Logger, sessionID string) {
	if err := c.Close(); err != nil {
		logger.Warn("closing subscription failed", "session_id", sessionID, "error", err)
	}
}
