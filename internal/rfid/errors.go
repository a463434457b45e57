package rfid

import "errors"

// ErrDeviceNotFound is returned by OpenDevice when no input device has
// the requested name.
var ErrDeviceNotFound = errors.New("input device not found")
