package latch

import "errors"

// Domain errors for the latch controller.
var (
	// ErrRelayFailed is returned by Run when the relay could not be
	// energized within the retry window. The controller is terminal.
	ErrRelayFailed = errors.New("relay failed to energize")

	// ErrNotReady is reported by a relay driver whose hardware is absent
	// or not accepting writes. The controller retries it.
	ErrNotReady = errors.New("relay not ready")

	// ErrUnknownDriver is returned by NewRelay for an unsupported driver type.
	ErrUnknownDriver = errors.New("unknown relay driver")
)
