package drive

import "errors"

var (
	// ErrWrongCommandMode is returned when a command does not match the configured control mode.
	ErrWrongCommandMode = errors.New("command does not match control mode")

	// ErrStopped is returned by Submit* once the loop has exited.
	ErrStopped = errors.New("controller stopped")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("controller already running")
)

// ErrInvalidCommand is returned for velocity commands with non-finite values.
var ErrInvalidCommand = errors.New("velocity command must be finite")
