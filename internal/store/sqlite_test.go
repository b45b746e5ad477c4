package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soywod/kronos.server/internal/infrastructure/database"
	"github.com/soywod/kronos.server/internal/task"
	_ "github.com/soywod/kronos.server/migrations"
)

// newTestStore returns a store over a migrated in-memory database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	bus := NewBus(16)
	t.Cleanup(bus.Close)
	return NewSQLiteStore(db, bus)
}

func newTestUser(t *testing.T, s *SQLiteStore) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background())
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func testTask(id int64, userID, desc string) *task.Task {
	return &task.Task{
		ID:     id,
		Index:  task.Index(id, userID),
		UserID: userID,
		Desc:   desc,
		Tags:   []string{"work"},
		Start:  []float64{1000},
		Stop:   []float64{},
	}
}

func nextBatch(t *testing.T, sub *Subscription) []ChangeEvent {
	t.Helper()
	select {
	case batch, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

// nextEvent expects the next publish to carry exactly one event.
func nextEvent(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	batch := nextBatch(t, sub)
	if len(batch) != 1 {
		t.Fatalf("batch has %d events, want 1", len(batch))
	}
	return batch[0]
}

func expectNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case batch := <-sub.Events():
		t.Fatalf("unexpected events %+v", batch)
	default:
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s)
	if u.ID == "" {
		t.Fatal("CreateUser() returned empty id")
	}
	if u.Version != NewUserVersion {
		t.Errorf("Version = %d, want %d", u.Version, NewUserVersion)
	}

	if err := s.UpdateUserVersion(ctx, u.ID, 1700000000000); err != nil {
		t.Fatalf("UpdateUserVersion() error = %v", err)
	}
	// Versions are overwritten, not compared.
	if err := s.UpdateUserVersion(ctx, u.ID, 5); err != nil {
		t.Fatalf("UpdateUserVersion() error = %v", err)
	}

	got, err := s.ReadUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ReadUser() error = %v", err)
	}
	if got.Version != 5 {
		t.Errorf("Version = %d, want 5", got.Version)
	}

	if _, err := s.ReadUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ReadUser(missing) error = %v, want ErrUserNotFound", err)
	}
	if !errors.Is(ErrUserNotFound, ErrNotFound) {
		t.Error("ErrUserNotFound should match ErrNotFound")
	}

	if err := s.UpdateUserVersion(ctx, "missing", 1); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("UpdateUserVersion(missing) error = %v, want ErrStorageFailure", err)
	}
}

func TestDevices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	d, err := s.CreateDevice(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if d.UserID != u.ID || d.Connected {
		t.Errorf("CreateDevice() = %+v", d)
	}

	if err := s.SetDeviceConnected(ctx, d.ID, true); err != nil {
		t.Fatalf("SetDeviceConnected() error = %v", err)
	}
	got, err := s.ReadDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	if !got.Connected {
		t.Error("device should be connected")
	}

	if err := s.SetDeviceConnected(ctx, d.ID, false); err != nil {
		t.Fatalf("SetDeviceConnected() error = %v", err)
	}
	got, err = s.ReadDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	if got.Connected {
		t.Error("device should be disconnected")
	}

	if _, err := s.ReadDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ReadDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := s.CreateDevice(ctx, "missing-user"); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("CreateDevice(missing user) error = %v, want ErrStorageFailure", err)
	}
}

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s)
	bob := newTestUser(t, s)

	aliceSub, err := s.SubscribeChanges(ctx, alice.ID)
	if err != nil {
		t.Fatalf("SubscribeChanges() error = %v", err)
	}
	defer aliceSub.Close() //nolint:errcheck // Test cleanup
	bobSub, err := s.SubscribeChanges(ctx, bob.ID)
	if err != nil {
		t.Fatalf("SubscribeChanges() error = %v", err)
	}
	defer bobSub.Close() //nolint:errcheck // Test cleanup

	origin := Origin{DeviceID: "dev-1", Version: 42}
	if err := s.CreateTask(ctx, testTask(7, alice.ID, "write report"), origin); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	ev := nextEvent(t, aliceSub)
	if ev.Type != ChangeCreate || ev.DeviceID != "dev-1" || ev.Version != 42 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Task == nil || ev.Task.Desc != "write report" || ev.TaskIndex != task.Index(7, alice.ID) {
		t.Errorf("event task = %+v, index %q", ev.Task, ev.TaskIndex)
	}
	expectNoEvent(t, bobSub)

	tasks, err := s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.ID != 7 || got.UserID != alice.ID || got.Desc != "write report" {
		t.Errorf("task = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "work" || len(got.Start) != 1 || got.Stop == nil {
		t.Errorf("task arrays = %v %v %v", got.Tags, got.Start, got.Stop)
	}

	bobTasks, err := s.ReadAllTasks(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if bobTasks == nil || len(bobTasks) != 0 {
		t.Errorf("bob tasks = %v, want empty non-nil", bobTasks)
	}

	if err := s.CreateTask(ctx, testTask(7, alice.ID, "again"), origin); !errors.Is(err, ErrStorageFailure) {
		t.Errorf("duplicate CreateTask() error = %v, want ErrStorageFailure", err)
	}
	expectNoEvent(t, aliceSub)
}

func TestUpdateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s)
	origin := Origin{DeviceID: "dev-1", Version: 1}

	if err := s.CreateTask(ctx, testTask(1, alice.ID, "before"), origin); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	sub, err := s.SubscribeChanges(ctx, alice.ID)
	if err != nil {
		t.Fatalf("SubscribeChanges() error = %v", err)
	}
	defer sub.Close() //nolint:errcheck // Test cleanup

	updated := testTask(1, alice.ID, "after")
	updated.Done = 1700000000
	if err := s.UpdateTask(ctx, updated, Origin{DeviceID: "dev-2", Version: 2}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	ev := nextEvent(t, sub)
	if ev.Type != ChangeUpdate || ev.DeviceID != "dev-2" || ev.Task.Desc != "after" {
		t.Errorf("event = %+v", ev)
	}

	tasks, err := s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].Desc != "after" || tasks[0].Done != 1700000000 {
		t.Errorf("tasks = %+v", tasks)
	}

	err = s.UpdateTask(ctx, testTask(99, alice.ID, "ghost"), origin)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("UpdateTask(missing) error = %v, want ErrTaskNotFound", err)
	}
	expectNoEvent(t, sub)

	tasks, err = s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("UpdateTask(missing) must not create; got %d tasks", len(tasks))
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s)
	bob := newTestUser(t, s)
	origin := Origin{DeviceID: "dev-1", Version: 1}

	if err := s.CreateTask(ctx, testTask(1, alice.ID, "mine"), origin); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	index := task.Index(1, alice.ID)

	// Another user cannot delete the task even knowing its index.
	if err := s.DeleteTask(ctx, bob.ID, index, origin); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("DeleteTask(foreign) error = %v, want ErrTaskNotFound", err)
	}

	sub, err := s.SubscribeChanges(ctx, alice.ID)
	if err != nil {
		t.Fatalf("SubscribeChanges() error = %v", err)
	}
	defer sub.Close() //nolint:errcheck // Test cleanup

	if err := s.DeleteTask(ctx, alice.ID, index, origin); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	ev := nextEvent(t, sub)
	if ev.Type != ChangeDelete || ev.TaskIndex != index || ev.Task != nil {
		t.Errorf("event = %+v", ev)
	}

	if err := s.DeleteTask(ctx, alice.ID, index, origin); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second DeleteTask() error = %v, want ErrTaskNotFound", err)
	}
	expectNoEvent(t, sub)
}

func TestReplaceAllTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s)
	bob := newTestUser(t, s)
	origin := Origin{DeviceID: "dev-1", Version: 1}

	for _, id := range []int64{1, 2} {
		if err := s.CreateTask(ctx, testTask(id, alice.ID, "old"), origin); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}
	if err := s.CreateTask(ctx, testTask(1, bob.ID, "bob's"), origin); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	sub, err := s.SubscribeChanges(ctx, alice.ID)
	if err != nil {
		t.Fatalf("SubscribeChanges() error = %v", err)
	}
	defer sub.Close() //nolint:errcheck // Test cleanup

	replacement := []task.Task{
		*testTask(3, alice.ID, "new"),
		// Ownership comes from the userID argument.
		*testTask(4, bob.ID, "claimed"),
	}
	if err := s.ReplaceAllTasks(ctx, alice.ID, replacement, Origin{DeviceID: "dev-2", Version: 9}); err != nil {
		t.Fatalf("ReplaceAllTasks() error = %v", err)
	}

	// Deletes and creates arrive as one batch each.
	var types []ChangeType
	for _i := 0; _i < 2; _i++ {
		batch := nextBatch(t, sub)
		if len(batch) != 2 {
			t.Fatalf("batch has %d events, want 2", len(batch))
		}
		for _, ev := range batch {
			if ev.DeviceID != "dev-2" || ev.Version != 9 {
				t.Errorf("event origin = %q/%d", ev.DeviceID, ev.Version)
			}
			types = append(types, ev.Type)
		}
	}
	want := []ChangeType{ChangeDelete, ChangeDelete, ChangeCreate, ChangeCreate}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event types = %v, want %v", types, want)
			break
		}
	}

	tasks, err := s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != 3 || tasks[1].ID != 4 {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[1].UserID != alice.ID || tasks[1].Index != task.Index(4, alice.ID) {
		t.Errorf("replaced task owner = %q index %q", tasks[1].UserID, tasks[1].Index)
	}

	bobTasks, err := s.ReadAllTasks(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(bobTasks) != 1 || bobTasks[0].Desc != "bob's" {
		t.Errorf("bob tasks = %+v", bobTasks)
	}

	if err := s.ReplaceAllTasks(ctx, alice.ID, nil, origin); err != nil {
		t.Fatalf("ReplaceAllTasks(empty) error = %v", err)
	}
	tasks, err = s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks after empty replace = %d, want 0", len(tasks))
	}
}

func TestReplaceAllTasks_LargeBatchKeepsSubscribers(t *testing.T) {
	s := newTestStore(t) // bus buffers 16 publishes
	ctx := context.Background()
	alice := newTestUser(t, s)

	const n = 3000
	batch := make([]task.Task, n)
	for i := range batch {
		batch[i] = *testTask(int64(i+1), alice.ID, "bulk")
	}
	if err := s.ReplaceAllTasks(ctx, alice.ID, batch, Origin{}); err != nil {
		t.Fatalf("first ReplaceAllTasks() error = %v", err)
	}

	writer, _ := s.SubscribeChanges(ctx, alice.ID)
	other, _ := s.SubscribeChanges(ctx, alice.ID)
	defer writer.Close() //nolint:errcheck // Test cleanup
	defer other.Close()  //nolint:errcheck // Test cleanup

	// Replacing n tasks with n tasks publishes 2n events; neither subscriber
	// reads until the write is done.
	if err := s.ReplaceAllTasks(ctx, alice.ID, batch, Origin{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("ReplaceAllTasks() error = %v", err)
	}

	for _, sub := range []*Subscription{writer, other} {
		if err := sub.Err(); err != nil {
			t.Fatalf("subscription ended: %v", err)
		}
		deleted := nextBatch(t, sub)
		created := nextBatch(t, sub)
		if len(deleted) != n || deleted[0].Type != ChangeDelete {
			t.Errorf("delete batch = %d events", len(deleted))
		}
		if len(created) != n || created[n-1].Type != ChangeCreate {
			t.Errorf("create batch = %d events", len(created))
		}
	}
	if got := s.Bus().SubscriberCount(alice.ID); got != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", got)
	}
}

func TestReplaceAllTasks_DuplicateIDsRollBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s)

	batch := []task.Task{*testTask(1, alice.ID, "a"), *testTask(1, alice.ID, "b")}
	err := s.ReplaceAllTasks(ctx, alice.ID, batch, Origin{})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("ReplaceAllTasks() error = %v, want ErrStorageFailure", err)
	}

	tasks, err := s.ReadAllTasks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ReadAllTasks() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("insert batch should roll back; got %d tasks", len(tasks))
	}
}

func TestSubscribeChanges_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SubscribeChanges(ctx, "u"); !errors.Is(err, context.Canceled) {
		t.Errorf("SubscribeChanges() error = %v, want context.Canceled", err)
	}
}
