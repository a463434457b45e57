package latch

import (
	"fmt"

	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
)

// Relay drives the door strike.
//
// Energize and Deenergize return an error wrapping ErrNotReady when the
// hardware is absent or busy. The controller treats every Energize error
// as retryable within its window. Drivers holding a device also implement
// io.Closer.
type Relay interface {
	Energize() error
	Deenergize() error
}

// NewRelay builds the driver selected by cfg.Type.
//
// Parameters:
//   - cfg: Relay driver configuration ("relayplate", "gpio" or "sim")
//
// Returns:
//   - Relay: The driver
//   - error: ErrUnknownDriver for any other type
func NewRelay(cfg config.RelayDriverConfig) (Relay, error) {
	switch cfg.Type {
	case "relayplate":
		return NewRelayPlate(cfg.Plate), nil
	case "gpio":
		return NewGPIORelay(cfg.Pin, cfg.ActiveLow), nil
	case "sim":
		return NewSimRelay(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Type)
	}
}
