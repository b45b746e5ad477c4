package task

import "errors"

// ErrInvalidTask is wrapped by every validation error in this package.
var ErrInvalidTask = errors.New("task: invalid")

// Field validation errors, in the order fields are checked.
var (
	ErrMissingTask       = validationError("missing task")
	ErrMissingID         = validationError("missing task id")
	ErrInvalidID         = validationError("invalid task id")
	ErrMissingDesc       = validationError("missing task desc")
	ErrInvalidDesc       = validationError("invalid task desc")
	ErrMissingTags       = validationError("missing task tags")
	ErrInvalidTags       = validationError("invalid task tags")
	ErrInvalidStart      = validationError("invalid task start")
	ErrInvalidStop       = validationError("invalid task stop")
	ErrInvalidActive     = validationError("invalid task active")
	ErrInvalidLastActive = validationError("invalid task last_active")
	ErrInvalidDue        = validationError("invalid task due")
	ErrInvalidDone       = validationError("invalid task done")
	ErrInvalidWorktime   = validationError("invalid task worktime")
)

// Index errors.
var (
	ErrMissingIndex = validationError("missing task index")
	ErrInvalidIndex = validationError("invalid task index")
)

// fieldError keeps its own message while matching ErrInvalidTask.
type fieldError struct {
	msg string
}

func validationError(msg string) error {
	return &fieldError{msg: "task: " + msg}
}

func (e *fieldError) Error() string { return e.msg }

func (e *fieldError) Unwrap() error { return ErrInvalidTask }
