package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("service already running")

	// ErrExitedCleanly records a service that exited with status 0 while
	// it was expected to keep running.
	ErrExitedCleanly = errors.New("service exited with status 0")

	// ErrNoServices is returned when a supervisor has nothing to run.
	ErrNoServices = errors.New("no services configured")
)
