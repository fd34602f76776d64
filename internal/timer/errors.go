package timer

import "errors"

var (
	// ErrInvalidArgument is returned for a zero repeat count or a nil callback.
	ErrInvalidArgument = errors.New("timer: invalid argument")
	// ErrClosed is returned when registering work on a stopped scheduler.
	ErrClosed = errors.New("timer: scheduler closed")
	// ErrDriverStart is returned by New when a Detached scheduler cannot bring
	// its driver goroutine up. The instance is unusable and is not returned.
	ErrDriverStart = errors.New("timer: driver failed to start")
)
