package protocol

import "github.com/soywod/kronos.server/internal/task"

// Failure is the response to any request that could not be served.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail builds a failure envelope carrying an error code.
func Fail(code string) Failure {
	return Failure{Error: code}
}

// LoginOK acknowledges a login with the resolved ids and the user's version.
type LoginOK struct {
	Success  bool   `json:"success"`
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Version  int64  `json:"version"`
}

// NewLoginOK builds a login acknowledgement.
func NewLoginOK(userID, deviceID string, version int64) LoginOK {
	return LoginOK{Success: true, Type: TypeLogin, UserID: userID, DeviceID: deviceID, Version: version}
}

// ReadAllOK carries the user's task list and version.
type ReadAllOK struct {
	Success bool        `json:"success"`
	Type    Type        `json:"type"`
	Tasks   []task.Task `json:"tasks"`
	Version int64       `json:"version"`
}

// NewReadAllOK builds a read-all response. Tasks is never encoded as null.
func NewReadAllOK(tasks []task.Task, version int64) ReadAllOK {
	if tasks == nil {
		tasks = []task.Task{}
	}
	return ReadAllOK{Success: true, Type: TypeReadAll, Tasks: tasks, Version: version}
}

// Ack acknowledges a mutation.
type Ack struct {
	Success bool `json:"success"`
	Type    Type `json:"type"`
}

// NewAck builds a mutation acknowledgement.
func NewAck(t Type) Ack {
	return Ack{Success: true, Type: t}
}

// Push notifies a session of a change made by one of the user's devices.
// Create and update pushes carry the task, delete pushes its index.
type Push struct {
	Success   bool       `json:"success"`
	Type      Type       `json:"type"`
	DeviceID  string     `json:"device_id"`
	Version   int64      `json:"version"`
	Task      *task.Task `json:"task,omitempty"`
	TaskIndex string     `json:"task_index,omitempty"`
}

// NewPush builds a change notification.
func NewPush(t Type, deviceID string, version int64, tk *task.Task, index string) Push {
	p := Push{Success: true, Type: t, DeviceID: deviceID, Version: version}
	if tk != nil {
		p.Task = tk
	} else {
		p.TaskIndex = index
	}
	return p
}
