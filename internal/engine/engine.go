package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soywod/kronos.server/internal/protocol"
	"github.com/soywod/kronos.server/internal/session"
	"github.com/soywod/kronos.server/internal/store"
	"github.com/soywod/kronos.server/internal/task"
)

// Outbox is the outbound side of one connection. Send must preserve the
// order of calls; it is called from the request path and from the relay.
type Outbox interface {
	// Send queues a response envelope for the connection.
	Send(v any) error

	// Abort tears the connection down because of err.
	Abort(err error)
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives one observation per dispatched request.
// Outcome is "ok" or the wire error code.
type Metrics interface {
	WriteRequestMetric(messageType, outcome string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) WriteRequestMetric(string, string, time.Duration) {}

// Engine dispatches requests for every session of a server.
type Engine struct {
	store    store.Store
	sessions *session.Registry
	timeout  time.Duration
	logger   Logger
	metrics  Metrics
	relays   sync.WaitGroup
}

// New creates an engine. A positive storeTimeout bounds the store calls of
// each request.
func New(st store.Store, sessions *session.Registry, storeTimeout time.Duration) *Engine {
	return &Engine{
		store:    st,
		sessions: sessions,
		timeout:  storeTimeout,
		logger:   noopLogger{},
		metrics:  noopMetrics{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMetrics sets the request metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// Sessions returns the registry the engine binds sessions in.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// OpenSession registers a new connection and returns its session id.
func (e *Engine) OpenSession() string {
	return e.sessions.Create()
}

// Upgrade switches the session to WebSocket framing.
func (e *Engine) Upgrade(sessionID string) error {
	return e.sessions.SetTransport(sessionID, protocol.ModeWebSocket)
}

// CloseSession deregisters the session, closing its subscription, and
// marks its device disconnected. A failure to update the device is logged
// and otherwise ignored. Closing an unknown session is a no-op.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) {
	deviceID, err := e.sessions.Delete(sessionID)
	if err != nil {
		e.logger.Debug("closing unknown session", "session_id", sessionID)
		return
	}
	if deviceID == "" {
		return
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if e.markDisconnected(ctx, sessionID, deviceID) {
		e.logger.Info("device disconnected", "session_id", sessionID, "device_id", deviceID)
	}
}

// markDisconnected clears the device's connected flag, logging a failure.
func (e *Engine) markDisconnected(ctx context.Context, sessionID, deviceID string) bool {
	if err := e.store.SetDeviceConnected(ctx, deviceID, false); err != nil {
		e.logger.Warn("marking device disconnected failed",
			"session_id", sessionID,
			"device_id", deviceID,
			"error", err,
		)
		return false
	}
	return true
}

// Wait blocks until every relay goroutine has returned. Relays return once
// their sessions are closed.
func (e *Engine) Wait() {
	e.relays.Wait()
}

// Reject answers input that could not be decoded into a Message.
func (e *Engine) Reject(sessionID string, err error, out Outbox) {
	code := Code(err)
	e.logger.Debug("request rejected", "session_id", sessionID, "code", code, "error", err)
	e.metrics.WriteRequestMetric("unknown", code, 0)
	if sendErr := out.Send(protocol.Fail(code)); sendErr != nil {
		e.logger.Debug("sending rejection failed", "session_id", sessionID, "error", sendErr)
	}
}

// Dispatch handles one request and writes its response to out.
func (e *Engine) Dispatch(ctx context.Context, sessionID string, msg protocol.Message, out Outbox) {
	start := time.Now()

	res, err := e.handle(ctx, sessionID, msg)

	outcome := "ok"
	var resp any = res.resp
	if err != nil {
		outcome = Code(err)
		resp = protocol.Fail(outcome)
		if outcome == CodeInternal || outcome == CodeStorageFailure {
			e.logger.Error("request failed", "session_id", sessionID, "type", msg.Type(), "error", err)
		} else {
			e.logger.Debug("request refused", "session_id", sessionID, "type", msg.Type(), "code", outcome)
		}
	}
	e.metrics.WriteRequestMetric(string(msg.Type()), outcome, time.Since(start))

	if sendErr := out.Send(resp); sendErr != nil {
		// A login's subscription is already owned by the session and is
		// closed on teardown.
		e.logger.Debug("sending response failed", "session_id", sessionID, "error", sendErr)
		return
	}

	if res.sub != nil {
		e.relays.Add(1)
		go e.relay(sessionID, res.sub, out)
	}
}

// result is a successful response, plus the subscription to relay after a
// login has been acknowledged.
type result struct {
	resp any
	sub  *store.Subscription
}

func (e *Engine) handle(ctx context.Context, sessionID string, msg protocol.Message) (result, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return result{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if m, ok := msg.(protocol.Login); ok {
		return e.login(ctx, s, m)
	}

	if !s.Authenticated() {
		return result{}, ErrNotAuthenticated
	}

	switch m := msg.(type) {
	case protocol.ReadAll:
		return e.readAll(ctx, s)
	case protocol.WriteAll:
		return e.writeAll(ctx, s, m)
	case protocol.Create:
		return e.create(ctx, s, m)
	case protocol.Update:
		return e.update(ctx, s, m)
	case protocol.Delete:
		return e.delete(ctx, s, m)
	default:
		return result{}, protocol.ErrUnknownType
	}
}

func (e *Engine) login(ctx context.Context, s session.Session, m protocol.Login) (result, error) {
	if s.Authenticated() {
		return result{}, ErrAlreadyAuthenticated
	}

	user, err := e.resolveUser(ctx, m.UserID)
	if err != nil {
		return result{}, err
	}
	device, err := e.resolveDevice(ctx, user.ID, m.DeviceID)
	if err != nil {
		return result{}, err
	}

	// Nothing is bound until the subscription exists, so a failed login
	// leaves the session unauthenticated and can be retried.
	sub, err := e.store.SubscribeChanges(ctx, user.ID)
	if err != nil {
		return result{}, err
	}
	if err := e.store.SetDeviceConnected(ctx, device.ID, true); err != nil {
		sub.Close() //nolint:errcheck // Never handed out
		return result{}, err
	}
	if err := e.sessions.BindDevice(s.ID, device.ID, user.ID); err != nil {
		sub.Close() //nolint:errcheck // Never handed out
		e.markDisconnected(ctx, s.ID, device.ID)
		return result{}, err
	}
	if err := e.sessions.AttachSubscription(s.ID, sub); err != nil {
		return result{}, err
	}

	e.logger.Info("device logged in", "session_id", s.ID, "user_id", user.ID, "device_id", device.ID)
	return result{
		resp: protocol.NewLoginOK(user.ID, device.ID, user.Version),
		sub:  sub,
	}, nil
}

func (e *Engine) resolveUser(ctx context.Context, id string) (*store.User, error) {
	if id == "" {
		return e.store.CreateUser(ctx)
	}
	return e.store.ReadUser(ctx, id)
}

// resolveDevice creates a device when id is empty. A device owned by
// another user is reported as not found.
func (e *Engine) resolveDevice(ctx context.Context, userID, id string) (*store.Device, error) {
	if id == "" {
		return e.store.CreateDevice(ctx, userID)
	}
	d, err := e.store.ReadDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, store.ErrDeviceNotFound
	}
	return d, nil
}

func (e *Engine) readAll(ctx context.Context, s session.Session) (result, error) {
	tasks, err := e.store.ReadAllTasks(ctx, s.UserID)
	if err != nil {
		return result{}, err
	}
	user, err := e.store.ReadUser(ctx, s.UserID)
	if err != nil {
		return result{}, err
	}
	return result{resp: protocol.NewReadAllOK(tasks, user.Version)}, nil
}

func (e *Engine) writeAll(ctx context.Context, s session.Session, m protocol.WriteAll) (result, error) {
	tasks := make([]task.Task, 0, len(m.Tasks))
	for _, raw := range m.Tasks {
		t, err := task.Parse(raw, s.UserID)
		if err != nil {
			return result{}, err
		}
		tasks = append(tasks, *t)
	}

	origin := store.Origin{DeviceID: s.DeviceID, Version: m.Version}
	if err := e.store.ReplaceAllTasks(ctx, s.UserID, tasks, origin); err != nil {
		return result{}, err
	}
	return e.commitVersion(ctx, s, m.Version, protocol.TypeWriteAll)
}

func (e *Engine) create(ctx context.Context, s session.Session, m protocol.Create) (result, error) {
	t, err := task.Parse(m.Task, s.UserID)
	if err != nil {
		return result{}, err
	}
	if err := e.store.CreateTask(ctx, t, store.Origin{DeviceID: s.DeviceID, Version: m.Version}); err != nil {
		return result{}, err
	}
	return e.commitVersion(ctx, s, m.Version, protocol.TypeCreate)
}

func (e *Engine) update(ctx context.Context, s session.Session, m protocol.Update) (result, error) {
	t, err := task.Parse(m.Task, s.UserID)
	if err != nil {
		return result{}, err
	}
	if err := e.store.UpdateTask(ctx, t, store.Origin{DeviceID: s.DeviceID, Version: m.Version}); err != nil {
		return result{}, err
	}
	return e.commitVersion(ctx, s, m.Version, protocol.TypeUpdate)
}

func (e *Engine) delete(ctx context.Context, s session.Session, m protocol.Delete) (result, error) {
	index, err := deleteIndex(m, s.UserID)
	if err != nil {
		return result{}, err
	}
	if err := e.store.DeleteTask(ctx, s.UserID, index, store.Origin{DeviceID: s.DeviceID, Version: m.Version}); err != nil {
		return result{}, err
	}
	return e.commitVersion(ctx, s, m.Version, protocol.TypeDelete)
}

// deleteIndex resolves the index a delete targets: task_index when given,
// otherwise the index of task_id for the session's user.
func deleteIndex(m protocol.Delete, userID string) (string, error) {
	if m.TaskIndex != "" {
		if _, _, err := task.ParseIndex(m.TaskIndex); err != nil {
			return "", err
		}
		return m.TaskIndex, nil
	}

	id, err := task.ParseID(m.TaskID)
	if errors.Is(err, task.ErrMissingID) {
		return "", task.ErrMissingIndex
	}
	if err != nil {
		return "", err
	}
	return task.Index(id, userID), nil
}

func (e *Engine) commitVersion(ctx context.Context, s session.Session, version int64, t protocol.Type) (result, error) {
	if err := e.store.UpdateUserVersion(ctx, s.UserID, version); err != nil {
		return result{}, err
	}
	return result{resp: protocol.NewAck(t)}, nil
}

// relay forwards the subscription's events to out until it ends.
func (e *Engine) relay(sessionID string, sub *store.Subscription, out Outbox) {
	defer e.relays.Done()

	for batch := range sub.Events() {
		for _, ev := range batch {
			if closedBySession(sub) {
				return
			}
			push := protocol.NewPush(protocol.Type(ev.Type), ev.DeviceID, ev.Version, ev.Task, ev.TaskIndex)
			if err := out.Send(push); err != nil {
				e.logger.Warn("relaying change failed", "session_id", sessionID, "error", err)
				out.Abort(err)
				return
			}
		}
	}

	if err := sub.Err(); err != nil {
		e.logger.Warn("subscription ended", "session_id", sessionID, "error", err)
		out.Abort(err)
	}
}

// closedBySession reports whether sub was closed deliberately, in which case
// its buffered events are dropped.
func closedBySession(sub *store.Subscription) bool {
	select {
	case <-sub.Done():
		return sub.Err() == nil
	default:
		return false
	}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
