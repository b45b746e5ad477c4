package session

import "errors"

// Domain-specific errors for the session package.
var (
	// ErrSessionNotFound indicates no session has the given id.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrAlreadyBound indicates the session is already logged in.
	ErrAlreadyBound = errors.New("session: already bound to a device")

	// ErrSubscriptionExists indicates the session already owns a subscription.
	ErrSubscriptionExists = errors.New("session: subscription already attached")
)
