package bus

import "errors"

var (
	// ErrPublish wraps a connection or serialization failure encountered
	// while publishing. The caller decides whether to retry, buffer or drop.
	ErrPublish = errors.New("publish failed")

	// ErrRetryExhausted marks an entry whose handler kept failing past the
	// retry budget. It never reaches the original publisher; it ends up in
	// the error info of the dead-lettered entry.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
