package store

import (
	"sync"
)

// DefaultSubscriptionBuffer is the number of publishes a subscription buffers
// before it is considered to have fallen behind.
const DefaultSubscriptionBuffer = 1024

// Observer sees every published event, after subscribers.
type Observer func(ChangeEvent)

// Bus fans out task changes to the subscriptions of the affected user.
//
// Subscriptions buffer whole publishes, so a large batch from one mutation
// takes a single slot. Publish never blocks: a subscription with a full
// buffer is closed with ErrSubscriptionOverflow instead of silently missing
// events.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	observers []Observer
	buffer    int
	closed    bool
}

// NewBus creates a Bus whose subscriptions buffer the given number of publishes.
// A non-positive buffer selects DefaultSubscriptionBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscription for userID's events.
func (b *Bus) Subscribe(userID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		bus:    b,
		userID: userID,
		events: make(chan []ChangeEvent, b.buffer),
		done:   make(chan struct{}),
	}

	set, ok := b.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[userID] = set
	}
	set[sub] = struct{}{}

	return sub, nil
}

// Observe registers fn to be called with every published event.
// Observers run synchronously on the publishing goroutine and must not block.
func (b *Bus) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Publish delivers evs as one batch to every subscription of their user,
// then to observers event by event. All events of a batch must belong to the
// same user.
func (b *Bus) Publish(evs ...ChangeEvent) {
	if len(evs) == 0 {
		return
	}

	b.mu.Lock()
	for sub := range b.subs[evs[0].UserID] {
		// Each subscriber gets its own copy of the tasks.
		batch := make([]ChangeEvent, len(evs))
		for i, ev := range evs {
			batch[i] = ev
			batch[i].Task = ev.Task.Clone()
		}

		select {
		case sub.events <- batch:
		default:
			b.removeLocked(sub, ErrSubscriptionOverflow)
		}
	}
	observers := b.observers
	b.mu.Unlock()

	for _, ev := range evs {
		for _, fn := range observers {
			fn(ev)
		}
	}
}

// SubscriberCount returns the number of open subscriptions for userID.
func (b *Bus) SubscriberCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// Close ends every open subscription with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			b.removeLocked(sub, ErrBusClosed)
		}
	}
}

// removeLocked unregisters sub and closes its channel. The caller holds b.mu,
// which is also held by every send, so a closed channel is never written to.
func (b *Bus) removeLocked(sub *Subscription, err error) {
	set, ok := b.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}

	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}

	sub.err = err
	close(sub.events)
	close(sub.done)
}

// Subscription is a live stream of one user's task changes.
type Subscription struct {
	bus    *Bus
	userID string
	events chan []ChangeEvent
	done   chan struct{}

	// err is written once under bus.mu before done is closed.
	err error
}

// UserID returns the user the subscription follows.
func (s *Subscription) UserID() string {
	return s.userID
}

// Events returns the channel of event batches, one per publish, in publish
// order. It is closed when the subscription ends; batches buffered before an
// overflow or a bus close are still delivered.
func (s *Subscription) Events() <-chan []ChangeEvent {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended: nil while open or after Close,
// ErrSubscriptionOverflow or ErrBusClosed otherwise.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close ends the subscription. Closing twice is a no-op.
func (s *Subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s, nil)
	return nil
}
