package session

import "errors"

// Sentinel errors for session persistence. Callers check with errors.Is
// and map them to transport-level responses.
var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized indicates the session exists but belongs to a
	// different owner.
	ErrUnauthorized = errors.New("session owned by another user")

	// ErrInvalidMessage indicates a message failed validation before any
	// database write.
	ErrInvalidMessage = errors.New("invalid message")
)
