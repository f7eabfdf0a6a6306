package chat

import "errors"

// Sentinel errors for chat turn handling. The API layer maps these onto
// HTTP status codes with errors.Is.
var (
	// ErrInvalidArgument indicates a malformed turn request (missing user
	// identity or blank message). Nothing is persisted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrGenerationFailed indicates the model produced no reply even
	// after the ungrounded fallback attempt. The session is unchanged.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrPersistenceFailed indicates a reply was generated but could not
	// be stored; the reply is lost and the client should retry the turn.
	ErrPersistenceFailed = errors.New("persistence failed")
)
