package schema

import "errors"

var (
	// ErrDecode is returned for a line that is not valid UTF-8 or not a
	// single JSON object.
	ErrDecode = errors.New("schema: decode failed")

	// ErrInvalid is returned when a message does not satisfy its schema.
	// The wrapped error is the *jsonschema.ValidationError.
	ErrInvalid = errors.New("schema: invalid message")
)
