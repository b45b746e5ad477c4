package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/soywod/kronos.server/internal/infrastructure/mqtt"
	"github.com/soywod/kronos.server/internal/store"
	"github.com/soywod/kronos.server/internal/task"
)

// DefaultQueueSize is the number of events buffered before new ones are dropped.
const DefaultQueueSize = 256

// Publisher sends one message to a topic.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// Logger defines the logging interface used by the Feed.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Event is the JSON payload of a feed message.
type Event struct {
	Type      store.ChangeType `json:"type"`
	UserID    string           `json:"user_id"`
	DeviceID  string           `json:"device_id"`
	Version   int64            `json:"version"`
	TaskIndex string           `json:"task_index"`
	Task      *task.Task       `json:"task,omitempty"`
}

// Feed forwards change events to a Publisher.
type Feed struct {
	pub    Publisher
	topics mqtt.Topics
	queue  chan store.ChangeEvent
	logger Logger

	dropped   atomic.Int64
	published atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a feed publishing under topics. Call Run to start it.
func New(pub Publisher, topics mqtt.Topics, queueSize int) *Feed {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Feed{
		pub:     pub,
		topics:  topics,
		queue:   make(chan store.ChangeEvent, queueSize),
		logger:  noopLogger{},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SetLogger sets the logger for the feed.
func (f *Feed) SetLogger(logger Logger) {
	f.logger = logger
}

// Observe queues ev without blocking. It is meant to be registered with
// store.Bus.Observe.
func (f *Feed) Observe(ev store.ChangeEvent) {
	select {
	case <-f.done:
		return
	default:
	}

	ev.Task = ev.Task.Clone()
	select {
	case f.queue <- ev:
	default:
		if f.dropped.Add(1) == 1 {
			f.logger.Warn("activity feed queue full, dropping events")
		}
	}
}

// Run publishes queued events until ctx is cancelled or Close is called.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.stopped)

	for {
		select {
		case ev := <-f.queue:
			f.publish(ev)
		case <-ctx.Done():
			return
		case <-f.done:
			return
		}
	}
}

// Close stops Run and waits for it to return. Queued events are discarded.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
	<-f.stopped
}

// Dropped returns the number of events lost to a full queue.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Published returns the number of events delivered to the publisher.
func (f *Feed) Published() int64 {
	return f.published.Load()
}

func (f *Feed) publish(ev store.ChangeEvent) {
	payload, err := json.Marshal(Event{
		Type:      ev.Type,
		UserID:    ev.UserID,
		DeviceID:  ev.DeviceID,
		Version:   ev.Version,
		TaskIndex: ev.TaskIndex,
		Task:      ev.Task,
	})
	if err != nil {
		f.logger.Warn("encoding feed event failed", "error", err)
		return
	}

	topic := f.topics.TaskChange(ev.UserID, string(ev.Type))
	if err := f.pub.PublishEvent(topic, payload); err != nil {
		f.logger.Warn("publishing feed event failed", "topic", topic, "error", err)
		return
	}
	f.published.Add(1)
	f.logger.Debug("feed event published", "topic", topic, "task_index", ev.TaskIndex)
}
