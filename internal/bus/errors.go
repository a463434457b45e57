package bus

import (
	"errors"

	"github.com/queeriouslabs/secbot/internal/schema"
)

var (
	// ErrConnection is returned when a peer's address does not exist, is
	// not listening, or the connection fails mid-exchange.
	ErrConnection = errors.New("bus: connection failed")

	// ErrDecode is returned when a received line is not a JSON object.
	ErrDecode = schema.ErrDecode

	// ErrSchema is returned when a message does not satisfy its schema.
	ErrSchema = schema.ErrInvalid

	// ErrNotStarted is returned by operations that need the listener.
	ErrNotStarted = errors.New("bus: not started")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("bus: stopped")

	// ErrAddressInUse is returned by Start when a live process already
	// listens on this endpoint's address.
	ErrAddressInUse = errors.New("bus: address in use")

	// ErrInvalidAddress is returned for an empty address or one that would
	// escape the socket root.
	ErrInvalidAddress = errors.New("bus: invalid address")

	// ErrTimeout is returned when a request gets no reply within the
	// configured request timeout.
	ErrTimeout = errors.New("bus: request timed out")
)
