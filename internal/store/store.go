package store

import (
	"context"

	"github.com/soywod/kronos.server/internal/task"
)

// NewUserVersion is the version of a user that has never synced.
const NewUserVersion int64 = -1

// User owns devices and tasks.
type User struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// Device is one client installation of a user.
type Device struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Connected bool   `json:"connected"`
}

// ChangeType names the kind of task mutation carried by a ChangeEvent.
type ChangeType string

// Change types, matching the wire message types.
const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent describes one task mutation. Create and update events carry
// the task; delete events carry only its index.
type ChangeEvent struct {
	Type      ChangeType
	UserID    string
	DeviceID  string
	Version   int64
	Task      *task.Task
	TaskIndex string
}

// Origin identifies the device performing a mutation and the version it
// is writing. Both are stamped on the resulting change events.
type Origin struct {
	DeviceID string
	Version  int64
}

// Store is the persistence contract of the sync engine.
type Store interface {
	CreateUser(ctx context.Context) (*User, error)
	ReadUser(ctx context.Context, id string) (*User, error)
	UpdateUserVersion(ctx context.Context, id string, version int64) error

	CreateDevice(ctx context.Context, userID string) (*Device, error)
	ReadDevice(ctx context.Context, id string) (*Device, error)
	SetDeviceConnected(ctx context.Context, id string, connected bool) error

	ReadAllTasks(ctx context.Context, userID string) ([]task.Task, error)
	ReplaceAllTasks(ctx context.Context, userID string, tasks []task.Task, origin Origin) error
	CreateTask(ctx context.Context, t *task.Task, origin Origin) error
	UpdateTask(ctx context.Context, t *task.Task, origin Origin) error
	DeleteTask(ctx context.Context, userID, index string, origin Origin) error

	// SubscribeChanges opens a live stream of the user's task changes.
	// The caller owns the subscription and must Close it.
	SubscribeChanges(ctx context.Context, userID string) (*Subscription, error)
}
