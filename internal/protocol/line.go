package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// now is replaced in tests.
var now = time.Now

// emptyTask is the value of a missing "task" field.
var emptyTask = json.RawMessage("{}")

// wireMessage is the union of every request field.
type wireMessage struct {
	Type      Type              `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Task      json.RawMessage   `json:"task,omitempty"`
	Tasks     []json.RawMessage `json:"tasks,omitempty"`
	Version   json.RawMessage   `json:"version,omitempty"`
	TaskIndex string            `json:"task_index,omitempty"`
	TaskID    json.RawMessage   `json:"task_id,omitempty"`
}

// ParseLine decodes one JSON request. Absent fields take their defaults:
// an empty task object, an empty task list, and the current Unix time in
// milliseconds as version.
func ParseLine(line []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	switch w.Type {
	case TypeLogin:
		return Login{UserID: w.UserID, DeviceID: w.DeviceID}, nil
	case TypeReadAll:
		return ReadAll{}, nil
	case TypeWriteAll, TypeCreate, TypeUpdate, TypeDelete:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	version, err := parseVersion(w.Version)
	if err != nil {
		return nil, err
	}

	switch w.Type {
	case TypeWriteAll:
		tasks := w.Tasks
		if tasks == nil {
			tasks = []json.RawMessage{}
		}
		return WriteAll{Tasks: tasks, Version: version}, nil
	case TypeCreate:
		return Create{Task: taskOrEmpty(w.Task), Version: version}, nil
	case TypeUpdate:
		return Update{Task: taskOrEmpty(w.Task), Version: version}, nil
	default:
		return Delete{TaskIndex: w.TaskIndex, TaskID: w.TaskID, Version: version}, nil
	}
}

// MarshalMessage encodes m in the request wire format, without the newline.
func MarshalMessage(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Type()}
	var version int64

	switch m := m.(type) {
	case Login:
		w.UserID, w.DeviceID = m.UserID, m.DeviceID
	case ReadAll:
	case WriteAll:
		w.Tasks = m.Tasks
		if w.Tasks == nil {
			w.Tasks = []json.RawMessage{}
		}
		version = m.Version
	case Create:
		w.Task, version = m.Task, m.Version
	case Update:
		w.Task, version = m.Task, m.Version
	case Delete:
		w.TaskIndex, w.TaskID, version = m.TaskIndex, m.TaskID, m.Version
	}

	if m.Type() != TypeLogin && m.Type() != TypeReadAll {
		w.Version = json.RawMessage(strconv.FormatInt(version, 10))
	}
	return json.Marshal(w)
}

// FormatLine encodes v as JSON followed by a newline.
func FormatLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return append(b, '\n'), nil
}

// ReadLine reads one newline-terminated line of at most maxLen bytes,
// without the terminator. A final line without a newline is returned
// together with io.EOF on the next call. Blank lines are skipped.
func ReadLine(r *bufio.Reader, maxLen int) ([]byte, error) {
	for {
		var line []byte
		for {
			chunk, err := r.ReadSlice('\n')
			if len(line)+len(chunk) > maxLen+1 {
				return nil, ErrLineTooLong
			}
			line = append(line, chunk...)

			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
				return bytes.TrimSpace(line), nil
			}
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
	}
}

// parseVersion accepts any integral JSON number, including exponent forms.
func parseVersion(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now().UnixMilli(), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: invalid version %s", ErrDecodeFailure, raw)
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: invalid version %q", ErrDecodeFailure, n.String())
	}
	return int64(f), nil
}

func taskOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return emptyTask
	}
	return raw
}
