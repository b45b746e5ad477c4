package store

import (
	"errors"
	"fmt"
)

// Domain errors for the store package.
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // user, device or task missing
//	}
var (
	// ErrNotFound is wrapped by every lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = fmt.Errorf("store: user %w", ErrNotFound)

	// ErrDeviceNotFound is returned when a device id does not exist or
	// belongs to another user.
	ErrDeviceNotFound = fmt.Errorf("store: device %w", ErrNotFound)

	// ErrTaskNotFound is returned when a task index does not exist for the user.
	ErrTaskNotFound = fmt.Errorf("store: task %w", ErrNotFound)

	// ErrStorageFailure is returned when a write does not report success.
	ErrStorageFailure = errors.New("store: storage failure")

	// ErrSubscriptionOverflow ends a subscription whose reader fell behind.
	ErrSubscriptionOverflow = errors.New("store: subscription overflow")

	// ErrBusClosed is returned when subscribing to a closed bus, and ends
	// every subscription open when the bus closes.
	ErrBusClosed = errors.New("store: bus closed")
)
