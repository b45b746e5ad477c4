package engine

import (
	"context"
	"errors"

	"github.com/soywod/kronos.server/internal/protocol"
	"github.com/soywod/kronos.server/internal/session"
	"github.com/soywod/kronos.server/internal/store"
	"github.com/soywod/kronos.server/internal/task"
)

// Domain-specific errors for the engine package.
var (
	// ErrNotAuthenticated indicates a request that needs a logged-in session.
	ErrNotAuthenticated = errors.New("engine: not authenticated")

	// ErrAlreadyAuthenticated indicates a second login on one session.
	ErrAlreadyAuthenticated = errors.New("engine: already authenticated")
)

// Wire error codes.
const (
	CodeInvalidPayload       = "invalid_payload"
	CodeInvalidPayloadType   = "invalid_payload_type"
	CodeNotAuthenticated     = "not_authenticated"
	CodeAlreadyAuthenticated = "already_authenticated"
	CodeUserNotFound         = "user_not_found"
	CodeDeviceNotFound       = "device_not_found"
	CodeTaskNotFound         = "task_not_found"
	CodeStorageFailure       = "storage_failure"
	CodeSessionNotFound      = "session_not_found"
	CodeInternal             = "internal_error"
)

// codes maps errors to wire codes. Order matters: more specific errors
// come before the errors they wrap.
var codes = []struct {
	err  error
	code string
}{
	{protocol.ErrUnknownType, CodeInvalidPayloadType},
	{protocol.ErrDecodeFailure, CodeInvalidPayload},
	{ErrNotAuthenticated, CodeNotAuthenticated},
	{ErrAlreadyAuthenticated, CodeAlreadyAuthenticated},
	{session.ErrAlreadyBound, CodeAlreadyAuthenticated},
	{store.ErrUserNotFound, CodeUserNotFound},
	{store.ErrDeviceNotFound, CodeDeviceNotFound},
	{store.ErrTaskNotFound, CodeTaskNotFound},
	{store.ErrStorageFailure, CodeStorageFailure},
	{context.DeadlineExceeded, CodeStorageFailure},
	{session.ErrSessionNotFound, CodeSessionNotFound},

	{task.ErrMissingTask, "missing_task"},
	{task.ErrMissingID, "missing_task_id"},
	{task.ErrInvalidID, "invalid_task_id"},
	{task.ErrMissingDesc, "missing_task_desc"},
	{task.ErrInvalidDesc, "invalid_task_desc"},
	{task.ErrMissingTags, "missing_task_tags"},
	{task.ErrInvalidTags, "invalid_task_tags"},
	{task.ErrInvalidStart, "invalid_task_start"},
	{task.ErrInvalidStop, "invalid_task_stop"},
	{task.ErrInvalidActive, "invalid_task_active"},
	{task.ErrInvalidLastActive, "invalid_task_last_active"},
	{task.ErrInvalidDue, "invalid_task_due"},
	{task.ErrInvalidDone, "invalid_task_done"},
	{task.ErrInvalidWorktime, "invalid_task_worktime"},
	{task.ErrMissingIndex, "missing_task_index"},
	{task.ErrInvalidIndex, "invalid_task_index"},
}

// Code returns the wire error code for err, or CodeInternal for errors
// with no dedicated code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
