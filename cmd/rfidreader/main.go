// Command rfidreader turns badge scans into /open requests.
//
// It reads a keyboard-emulating RFID reader through evdev, or one
// identifier per line from stdin when the device is "-", and sends each
// identifier to the authorizer. A regular file or FIFO is read as a raw
// input_event capture.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/rfid"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const stdinDevice = "-"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if app.IsHelp(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var device string
	flags, err := app.ParseFlags("rfidreader", args, os.Stderr, func(fs *pflag.FlagSet) {
		fs.StringVarP(&device, "device", "d", "", "input device, name:<label>, or - for stdin (overrides rfid.device)")
	})
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("rfidreader %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if device == "" {
		device = cfg.RFID.Device
	}

	log := logging.New(cfg.Logging, cfg.RFID.Name, version)
	defer log.Close() //nolint:errcheck // nothing to do on close failure at exit

	in, err := openDevice(device)
	if err != nil {
		return err
	}
	defer in.Close()                              //nolint:errcheck // read-only device
	context.AfterFunc(ctx, func() { in.Close() }) //nolint:errcheck // unblocks a pending read
	log.Info("reading badges", "device", device)

	endpoint, err := app.DialBus(cfg.Bus, cfg.RFID.Name, log)
	if err != nil {
		return err
	}
	defer endpoint.Stop()

	reader := rfid.New(endpoint, rfid.Options{
		Name:           cfg.RFID.Name,
		Authorizer:     cfg.RFID.Authorizer,
		Target:         cfg.RFID.Target,
		RequestTimeout: cfg.Bus.RequestTimeout,
		Logger:         log,
	})
	if in.lines != nil {
		err = reader.RunLines(ctx, in.lines)
	} else {
		err = reader.Run(ctx, in.events)
	}
	log.Info("rfid reader stopped")
	return err
}

// input is an opened badge source: either a line stream or an event source.
type input struct {
	lines  io.Reader
	events rfid.EventSource
	closer io.Closer
}

func (in *input) Close() error { return in.closer.Close() }

// openDevice resolves the configured device to an input.
func openDevice(device string) (*input, error) {
	if device == stdinDevice {
		return &input{lines: os.Stdin, closer: io.NopCloser(nil)}, nil
	}

	if !strings.HasPrefix(device, rfid.DeviceNamePrefix) {
		info, err := os.Stat(device)
		if err != nil {
			return nil, fmt.Errorf("opening input device: %w", err)
		}
		if info.Mode()&os.ModeCharDevice == 0 {
			f, err := os.Open(device)
			if err != nil {
				return nil, fmt.Errorf("opening input capture: %w", err)
			}
			return &input{events: rfid.NewStreamSource(f), closer: f}, nil
		}
	}

	dev, err := rfid.OpenDevice(device)
	if err != nil {
		return nil, err
	}
	return &input{events: dev, closer: dev}, nil
}
