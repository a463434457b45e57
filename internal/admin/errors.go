package admin

import "errors"

var (
	// ErrBadgeExists is returned when enrolling an identifier twice.
	ErrBadgeExists = errors.New("badge already enrolled")

	// ErrBadgeNotFound is returned when modifying or removing an unknown identifier.
	ErrBadgeNotFound = errors.New("badge not enrolled")

	// ErrUnknownLevel is returned for an access level the table does not define.
	ErrUnknownLevel = errors.New("unknown access level")

	// ErrNotAcknowledged is returned when a service closes the connection
	// without acknowledging a command.
	ErrNotAcknowledged = errors.New("command not acknowledged")
)
