package latch

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIORelay drives a relay board from one GPIO line through the kernel's
// character-device interface.
//
// The line is looked up on first use, so a board that is not yet present
// reports ErrNotReady and the controller retries it.
type GPIORelay struct {
	name      string
	activeLow bool
	open      func(name string) (gpio.PinOut, error)

	mu  sync.Mutex
	pin gpio.PinOut
}

// NewGPIORelay returns a driver for the GPIO line called name, e.g. "GPIO17".
func NewGPIORelay(name string, activeLow bool) *GPIORelay {
	return &GPIORelay{name: name, activeLow: activeLow, open: openPin}
}

// Energize drives the line to its active level.
func (g *GPIORelay) Energize() error { return g.set(true) }

// Deenergize drives the line to its inactive level.
func (g *GPIORelay) Deenergize() error { return g.set(false) }

func (g *GPIORelay) set(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pin == nil {
		pin, err := g.open(g.name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNotReady, g.name, err)
		}
		g.pin = pin
	}

	level := gpio.Level(on != g.activeLow)
	if err := g.pin.Out(level); err != nil {
		return fmt.Errorf("%w: driving %s %s: %w", ErrNotReady, g.name, level, err)
	}
	return nil
}

// openPin initializes the periph host drivers once and looks the line up
// by name.
func openPin(name string) (gpio.PinOut, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no GPIO line named %q", name)
	}
	return pin, nil
}
