package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soywod/kronos.server/internal/infrastructure/database"
	"github.com/soywod/kronos.server/internal/task"
)

// SQLiteStore implements Store on the embedded SQLite database.
// Task mutations are published on its Bus after they are written.
type SQLiteStore struct {
	db  *database.DB
	bus *Bus
	now func() time.Time
}

// NewSQLiteStore creates a store over a migrated database. A nil bus gets a
// private one with the default buffer.
func NewSQLiteStore(db *database.DB, bus *Bus) *SQLiteStore {
	if bus == nil {
		bus = NewBus(0)
	}
	return &SQLiteStore{
		db:  db,
		bus: bus,
		now: time.Now,
	}
}

// Bus returns the change bus the store publishes to.
func (s *SQLiteStore) Bus() *Bus {
	return s.bus
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// CreateUser inserts a user with a fresh id and NewUserVersion.
func (s *SQLiteStore) CreateUser(ctx context.Context) (*User, error) {
	u := &User{ID: uuid.NewString(), Version: NewUserVersion}
	ts := s.timestamp()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, version, created_at, updated_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Version, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("%w: inserting user: %w", ErrStorageFailure, err)
	}
	return u, nil
}

// ReadUser returns ErrUserNotFound for an unknown id.
func (s *SQLiteStore) ReadUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx, "SELECT id, version FROM users WHERE id = ?", id).Scan(&u.ID, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// UpdateUserVersion overwrites the stored version without comparing it.
func (s *SQLiteStore) UpdateUserVersion(ctx context.Context, id string, version int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET version = ?, updated_at = ? WHERE id = ?",
		version, s.timestamp(), id,
	)
	return checkAffected(res, err, "updating user version")
}

// CreateDevice inserts a disconnected device for userID.
func (s *SQLiteStore) CreateDevice(ctx context.Context, userID string) (*Device, error) {
	d := &Device{ID: uuid.NewString(), UserID: userID}
	ts := s.timestamp()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO devices (id, user_id, connected, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		d.ID, d.UserID, d.Connected, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("%w: inserting device: %w", ErrStorageFailure, err)
	}
	return d, nil
}

// ReadDevice returns ErrDeviceNotFound for an unknown id.
func (s *SQLiteStore) ReadDevice(ctx context.Context, id string) (*Device, error) {
	d := &Device{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, connected FROM devices WHERE id = ?", id,
	).Scan(&d.ID, &d.UserID, &d.Connected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// SetDeviceConnected records whether the device has a live session.
func (s *SQLiteStore) SetDeviceConnected(ctx context.Context, id string, connected bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE devices SET connected = ?, updated_at = ? WHERE id = ?",
		connected, s.timestamp(), id,
	)
	return checkAffected(res, err, "updating device connection")
}

const taskColumns = `id, task_index, user_id, description, tags, active, last_active,
	due, done, worktime, start, stop`

// ReadAllTasks returns the user's tasks ordered by id. An unknown user has
// no tasks.
func (s *SQLiteStore) ReadAllTasks(ctx context.Context, userID string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? ORDER BY id", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// ReplaceAllTasks deletes every task of the user, then inserts tasks.
// The two steps are not atomic together; the insert batch is.
// A delete event is published per removed task, then a create event per
// inserted task, each group as one batch on the bus.
func (s *SQLiteStore) ReplaceAllTasks(ctx context.Context, userID string, tasks []task.Task, origin Origin) error {
	removed, err := s.taskIndexes(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("%w: deleting tasks: %w", ErrStorageFailure, err)
	}
	deleted := make([]ChangeEvent, 0, len(removed))
	for _, index := range removed {
		deleted = append(deleted, changeEvent(ChangeDelete, userID, nil, index, origin))
	}
	s.bus.Publish(deleted...)

	inserted := make([]*task.Task, 0, len(tasks))
	ts := s.timestamp()
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		for i := range tasks {
			t := owned(&tasks[i], userID)
			if err := insertTask(ctx, tx, t, ts); err != nil {
				return err
			}
			inserted = append(inserted, t)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStorageFailure) {
			err = fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		return err
	}

	created := make([]ChangeEvent, 0, len(inserted))
	for _, t := range inserted {
		created = append(created, changeEvent(ChangeCreate, userID, t, t.Index, origin))
	}
	s.bus.Publish(created...)
	return nil
}

// CreateTask inserts t. An index that already exists is a storage failure.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *task.Task, origin Origin) error {
	t = owned(t, t.UserID)
	if err := insertTask(ctx, s.db, t, s.timestamp()); err != nil {
		return err
	}
	s.publish(ChangeCreate, t.UserID, t, t.Index, origin)
	return nil
}

// UpdateTask replaces the stored task with the same index.
// Returns ErrTaskNotFound, without writing, if the index is absent.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *task.Task, origin Origin) error {
	t = owned(t, t.UserID)

	if err := s.requireTask(ctx, t.UserID, t.Index); err != nil {
		return err
	}

	tags, start, stop, err := encodeTaskArrays(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET id = ?, description = ?, tags = ?, active = ?, last_active = ?,
			due = ?, done = ?, worktime = ?, start = ?, stop = ?, updated_at = ?
		WHERE task_index = ? AND user_id = ?`,
		t.ID, t.Desc, tags, t.Active, t.LastActive, t.Due, t.Done, t.Worktime, start, stop, s.timestamp(),
		t.Index, t.UserID,
	)
	if err := checkAffected(res, err, "updating task"); err != nil {
		return err
	}

	s.publish(ChangeUpdate, t.UserID, t, t.Index, origin)
	return nil
}

// DeleteTask removes the user's task with the given index.
// Returns ErrTaskNotFound if the index is absent or owned by another user.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID, index string, origin Origin) error {
	if err := s.requireTask(ctx, userID, index); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE task_index = ? AND user_id = ?", index, userID)
	if err := checkAffected(res, err, "deleting task"); err != nil {
		return err
	}

	s.publish(ChangeDelete, userID, nil, index, origin)
	return nil
}

// SubscribeChanges opens a subscription on the store's bus.
func (s *SQLiteStore) SubscribeChanges(ctx context.Context, userID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(userID)
}

func (s *SQLiteStore) publish(typ ChangeType, userID string, t *task.Task, index string, origin Origin) {
	s.bus.Publish(changeEvent(typ, userID, t, index, origin))
}

func changeEvent(typ ChangeType, userID string, t *task.Task, index string, origin Origin) ChangeEvent {
	return ChangeEvent{
		Type:      typ,
		UserID:    userID,
		DeviceID:  origin.DeviceID,
		Version:   origin.Version,
		Task:      t,
		TaskIndex: index,
	}
}

func (s *SQLiteStore) requireTask(ctx context.Context, userID, index string) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE task_index = ? AND user_id = ?", index, userID,
	).Scan(&count); err != nil {
		return fmt.Errorf("checking task exists: %w", err)
	}
	if count == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStore) taskIndexes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT task_index FROM tasks WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("querying task indexes: %w", err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var index string
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("scanning task index: %w", err)
		}
		indexes = append(indexes, index)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task indexes: %w", err)
	}
	return indexes, nil
}

// execer is implemented by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, t *task.Task, ts string) error {
	tags, start, stop, err := encodeTaskArrays(t)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO tasks (task_index, id, user_id, description, tags, active, last_active,
			due, done, worktime, start, stop, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Index, t.ID, t.UserID, t.Desc, tags, t.Active, t.LastActive, t.Due, t.Done, t.Worktime, start, stop, ts,
	)
	return checkAffected(res, err, "inserting task")
}

// owned returns a normalised copy of t belonging to userID, with its index
// derived from the id.
func owned(t *task.Task, userID string) *task.Task {
	c := t.Clone()
	c.UserID = userID
	c.Index = task.Index(c.ID, userID)
	return c
}

func encodeTaskArrays(t *task.Task) (tags, start, stop string, err error) {
	var b []byte
	if b, err = json.Marshal(t.Tags); err != nil {
		return "", "", "", fmt.Errorf("encoding tags: %w", err)
	}
	tags = string(b)
	if b, err = json.Marshal(t.Start); err != nil {
		return "", "", "", fmt.Errorf("encoding start: %w", err)
	}
	start = string(b)
	if b, err = json.Marshal(t.Stop); err != nil {
		return "", "", "", fmt.Errorf("encoding stop: %w", err)
	}
	stop = string(b)
	return tags, start, stop, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var tags, start, stop string

	if err := row.Scan(&t.ID, &t.Index, &t.UserID, &t.Desc, &tags,
		&t.Active, &t.LastActive, &t.Due, &t.Done, &t.Worktime, &start, &stop,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if err := json.Unmarshal([]byte(start), &t.Start); err != nil {
		return nil, fmt.Errorf("decoding start: %w", err)
	}
	if err := json.Unmarshal([]byte(stop), &t.Stop); err != nil {
		return nil, fmt.Errorf("decoding stop: %w", err)
	}
	t.Normalize()
	return &t, nil
}

// checkAffected turns an exec error, or an exec that changed nothing,
// into ErrStorageFailure.
func checkAffected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s: no rows affected", ErrStorageFailure, op)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
