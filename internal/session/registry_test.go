package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/soywod/kronos.server/internal/protocol"
)

// fakeSub counts Close calls.
type fakeSub struct {
	closed atomic.Int32
}

func (f *fakeSub) Close() error {
	f.closed.Add(1)
	return nil
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	id := r.Create()
	if id == "" {
		t.Fatal("Create() returned empty id")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	s, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.Authenticated() || s.Transport != protocol.ModeLine {
		t.Errorf("new session = %+v", s)
	}

	if err := r.SetTransport(id, protocol.ModeWebSocket); err != nil {
		t.Fatalf("SetTransport() error = %v", err)
	}
	if err := r.BindDevice(id, "d1", "u1"); err != nil {
		t.Fatalf("BindDevice() error = %v", err)
	}

	s, _ = r.Get(id)
	if s.DeviceID != "d1" || s.UserID != "u1" || s.Transport != protocol.ModeWebSocket {
		t.Errorf("session = %+v", s)
	}

	sub := &fakeSub{}
	if err := r.AttachSubscription(id, sub); err != nil {
		t.Fatalf("AttachSubscription() error = %v", err)
	}

	deviceID, err := r.Delete(id)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deviceID != "d1" {
		t.Errorf("Delete() device = %q, want d1", deviceID)
	}
	if sub.closed.Load() != 1 {
		t.Errorf("subscription closed %d times, want 1", sub.closed.Load())
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}

	if _, err := r.Delete(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v, want ErrSessionNotFound", err)
	}
	if sub.closed.Load() != 1 {
		t.Error("subscription closed again by second Delete")
	}
}

func TestRegistry_BindOnce(t *testing.T) {
	r := NewRegistry()
	id := r.Create()

	if err := r.BindDevice(id, "d1", "u1"); err != nil {
		t.Fatalf("BindDevice() error = %v", err)
	}
	if err := r.BindDevice(id, "d2", "u2"); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("rebind error = %v, want ErrAlreadyBound", err)
	}

	s, _ := r.Get(id)
	if s.DeviceID != "d1" || s.UserID != "u1" {
		t.Errorf("binding changed: %+v", s)
	}
}

func TestRegistry_AttachSubscriptionTwice(t *testing.T) {
	r := NewRegistry()
	id := r.Create()

	first, second := &fakeSub{}, &fakeSub{}
	if err := r.AttachSubscription(id, first); err != nil {
		t.Fatalf("AttachSubscription() error = %v", err)
	}
	if err := r.AttachSubscription(id, second); !errors.Is(err, ErrSubscriptionExists) {
		t.Fatalf("second AttachSubscription() error = %v, want ErrSubscriptionExists", err)
	}

	if second.closed.Load() != 1 {
		t.Error("rejected subscription should be closed")
	}
	if first.closed.Load() != 0 {
		t.Error("attached subscription should stay open")
	}
}

func TestRegistry_UnknownSession(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v", err)
	}
	if err := r.BindDevice("nope", "d", "u"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("BindDevice() error = %v", err)
	}
	if err := r.SetTransport("nope", protocol.ModeWebSocket); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetTransport() error = %v", err)
	}

	sub := &fakeSub{}
	if err := r.AttachSubscription("nope", sub); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AttachSubscription() error = %v", err)
	}
	if sub.closed.Load() != 1 {
		t.Error("subscription for unknown session should be closed")
	}
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry()

	a := r.Create()
	b := r.Create()
	r.Create()

	_ = r.BindDevice(a, "d1", "u1")
	_ = r.BindDevice(b, "d2", "u1")
	_ = r.SetTransport(b, protocol.ModeWebSocket)

	want := Stats{Total: 3, Authenticated: 2, WebSocket: 1}
	if got := r.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Create()
			_ = r.BindDevice(id, "d", "u")
			_ = r.AttachSubscription(id, &fakeSub{})
			_ = r.Stats()
			if i%2 == 0 {
				_, _ = r.Delete(id)
			}
		}()
	}
	wg.Wait()

	if got := r.Count(); got != 25 {
		t.Errorf("Count() = %d, want 25", got)
	}
}
