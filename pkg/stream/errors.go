package stream

import "errors"

var (
	// ErrConnection marks a transient store failure; the caller may retry
	ErrConnection = errors.New("stream store unreachable")

	// ErrNotFound marks an operation on a stream or group that does not exist
	ErrNotFound = errors.New("stream or group not found")

	// ErrProtocol marks a malformed response from the store
	ErrProtocol = errors.New("malformed store response")
)
