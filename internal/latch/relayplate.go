package latch

import (
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
)

// Pi-Plates RELAYplate command set. Each command is four bytes sent while
// the frame line is high: board address plus plateBaseAddr, command, two
// parameters. Replies are clocked out one byte per transfer.
const (
	plateBaseAddr = 24

	plateCmdGetAddr  = 0x00
	plateCmdRelayOn  = 0x10
	plateCmdRelayOff = 0x11

	plateSpeed = 300 * physic.KiloHertz

	// plateReplyDelay lets the board's microcontroller prepare a reply.
	plateReplyDelay = 100 * time.Microsecond
)

// plateBus is an opened SPI connection plus the frame line.
type plateBus struct {
	conn   conn.Conn
	frame  gpio.PinOut
	closer io.Closer
}

// RelayPlate drives one relay on a Pi-Plates RELAYplate over SPI.
//
// The board is asked for its address before the first command and again
// after any transfer error; a board that does not answer reports
// ErrNotReady so the controller retries it.
type RelayPlate struct {
	cfg  config.RelayPlateConfig
	open func(cfg config.RelayPlateConfig) (*plateBus, error)

	mu      sync.Mutex
	bus     *plateBus
	present bool
}

// NewRelayPlate returns a driver for cfg.Relay on the board at cfg.Address.
func NewRelayPlate(cfg config.RelayPlateConfig) *RelayPlate {
	return &RelayPlate{cfg: cfg, open: openPlateBus}
}

// Energize turns the relay on.
func (p *RelayPlate) Energize() error { return p.relay(plateCmdRelayOn) }

// Deenergize turns the relay off.
func (p *RelayPlate) Deenergize() error { return p.relay(plateCmdRelayOff) }

// Close releases the SPI port.
func (p *RelayPlate) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return nil
	}
	err := p.bus.closer.Close()
	p.bus = nil
	p.present = false
	return err
}

func (p *RelayPlate) relay(cmd byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bus == nil {
		bus, err := p.open(p.cfg)
		if err != nil {
			return fmt.Errorf("%w: relay plate: %w", ErrNotReady, err)
		}
		p.bus = bus
	}

	if !p.present {
		reply, err := p.command(plateCmdGetAddr, 0, 1)
		if err != nil {
			return fmt.Errorf("%w: querying relay plate %d: %w", ErrNotReady, p.cfg.Address, err)
		}
		if int(reply[0]) != plateBaseAddr+p.cfg.Address {
			return fmt.Errorf("%w: relay plate %d missing", ErrNotReady, p.cfg.Address)
		}
		p.present = true
	}

	if _, err := p.command(cmd, byte(p.cfg.Relay), 0); err != nil {
		p.present = false
		return fmt.Errorf("%w: relay plate %d relay %d: %w", ErrNotReady, p.cfg.Address, p.cfg.Relay, err)
	}
	return nil
}

// command sends one framed command and reads n reply bytes.
func (p *RelayPlate) command(cmd, param byte, n int) ([]byte, error) {
	if err := p.bus.frame.Out(gpio.High); err != nil {
		return nil, err
	}
	defer p.bus.frame.Out(gpio.Low) //nolint:errcheck // a stuck frame line shows up on the next command

	addr := byte(plateBaseAddr + p.cfg.Address)
	if err := p.bus.conn.Tx([]byte{addr, cmd, param, 0}, nil); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	time.Sleep(plateReplyDelay)
	reply := make([]byte, n)
	for i := range reply {
		if err := p.bus.conn.Tx([]byte{0}, reply[i:i+1]); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

func openPlateBus(cfg config.RelayPlateConfig) (*plateBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}

	frame := gpioreg.ByName(cfg.FramePin)
	if frame == nil {
		return nil, fmt.Errorf("no GPIO line named %q", cfg.FramePin)
	}
	if err := frame.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("setting frame line: %w", err)
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.SPIPort, err)
	}
	c, err := port.Connect(plateSpeed, spi.Mode0, 8)
	if err != nil {
		port.Close() //nolint:errcheck // connect error takes precedence
		return nil, fmt.Errorf("connecting %s: %w", cfg.SPIPort, err)
	}
	return &plateBus{conn: c, frame: frame, closer: port}, nil
}
