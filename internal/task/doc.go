// Package task defines the task model shared by every device of a user and
// the rules a client-supplied task must satisfy before it is stored.
//
// A task's id is chosen by the client and is only unique within its owner.
// The index, "<id>-<user_id>", is unique across all users and is the key
// the store and the wire protocol use to address a task.
//
// Validation checks fields in a fixed order and reports the first failure
// with a field-specific error, so clients can tell which field was wrong:
//
//	t, err := task.Parse(raw, userID)
//	if errors.Is(err, task.ErrMissingDesc) {
//	    // ...
//	}
//
// Like the clients that produce them, zero numbers, empty strings, false
// and null all count as "absent".
package task
