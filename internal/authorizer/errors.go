package authorizer

import "errors"

// Domain errors for the authorizer.
var (
	// ErrInvalidACL is returned when the ACL file cannot be parsed or is
	// inconsistent (unknown level, bad hours, duplicate badge).
	ErrInvalidACL = errors.New("invalid ACL")
)
