package protocol

import "encoding/json"

// Type is the value of a message's "type" field.
type Type string

// Message types.
const (
	TypeLogin    Type = "login"
	TypeReadAll  Type = "read-all"
	TypeWriteAll Type = "write-all"
	TypeCreate   Type = "create"
	TypeUpdate   Type = "update"
	TypeDelete   Type = "delete"
)

// Message is a decoded client request. The set of implementations is closed.
type Message interface {
	Type() Type
	isMessage()
}

// Login authenticates the connection. Empty ids ask the server to create
// a new user or device.
type Login struct {
	UserID   string
	DeviceID string
}

// ReadAll requests the user's full task list and version.
type ReadAll struct{}

// WriteAll replaces the user's full task list.
type WriteAll struct {
	Tasks   []json.RawMessage
	Version int64
}

// Create adds a task.
type Create struct {
	Task    json.RawMessage
	Version int64
}

// Update replaces an existing task.
type Update struct {
	Task    json.RawMessage
	Version int64
}

// Delete removes a task. TaskIndex takes precedence; older clients send
// the bare TaskID instead.
type Delete struct {
	TaskIndex string
	TaskID    json.RawMessage
	Version   int64
}

func (Login) Type() Type    { return TypeLogin }
func (ReadAll) Type() Type  { return TypeReadAll }
func (WriteAll) Type() Type { return TypeWriteAll }
func (Create) Type() Type   { return TypeCreate }
func (Update) Type() Type   { return TypeUpdate }
func (Delete) Type() Type   { return TypeDelete }

func (Login) isMessage()    {}
func (ReadAll) isMessage()  {}
func (WriteAll) isMessage() {}
func (Create) isMessage()   {}
func (Update) isMessage()   {}
func (Delete) isMessage()   {}
