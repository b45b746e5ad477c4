package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/soywod/kronos.server/internal/protocol"
	"github.com/soywod/kronos.server/internal/session"
	"github.com/soywod/kronos.server/internal/store"
	"github.com/soywod/kronos.server/internal/task"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: bad json", protocol.ErrDecodeFailure), "invalid_payload"},
		{protocol.ErrBadHandshake, "invalid_payload"},
		{protocol.ErrUnknownType, "invalid_payload_type"},
		{ErrNotAuthenticated, "not_authenticated"},
		{ErrAlreadyAuthenticated, "already_authenticated"},
		{session.ErrAlreadyBound, "already_authenticated"},
		{session.ErrSessionNotFound, "session_not_found"},
		{store.ErrUserNotFound, "user_not_found"},
		{store.ErrDeviceNotFound, "device_not_found"},
		{store.ErrTaskNotFound, "task_not_found"},
		{fmt.Errorf("%w: insert: locked", store.ErrStorageFailure), "storage_failure"},
		{fmt.Errorf("querying: %w", context.DeadlineExceeded), "storage_failure"},
		{task.ErrMissingTask, "missing_task"},
		{task.ErrInvalidLastActive, "invalid_task_last_active"},
		{task.ErrInvalidDue, "invalid_task_due"},
		{task.ErrInvalidDone, "invalid_task_done"},
		{task.ErrInvalidStop, "invalid_task_stop"},
		{fmt.Errorf("%w: %q", task.ErrInvalidIndex, "x"), "invalid_task_index"},
		{errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
