// Command latch drives the front door relay.
//
// It serves its bus address, acts on granted /open requests forwarded by
// the authorizer and announces each state change to the broadcast
// service. It exits non-zero when the relay cannot be energized, leaving
// the door locked until an operator restarts it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/latch"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

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

// run wires the latch controller to its relay and bus endpoint.
//
// Returns:
//   - error: nil on a signal, latch.ErrRelayFailed if the relay failed
func run(ctx context.Context, args []string) error {
	flags, err := app.ParseFlags("latch", args, os.Stderr, nil)
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("latch %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, cfg.Latch.Name, version)
	defer log.Close() //nolint:errcheck // nothing to do on close failure at exit

	relay, err := latch.NewRelay(cfg.Latch.Driver)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	if c, ok := relay.(io.Closer); ok {
		defer c.Close() //nolint:errcheck // releasing the port at exit
	}
	log.Info("relay driver ready", "driver", cfg.Latch.Driver.Type)

	influx, closeInflux, err := app.ConnectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer closeInflux()

	endpoint, err := app.OpenBus(ctx, cfg.Bus, cfg.Latch.Name, false, log)
	if err != nil {
		return err
	}
	defer endpoint.Stop()

	ctl := latch.New(endpoint, relay, latch.Options{
		Name:      cfg.Latch.Name,
		Door:      cfg.Latch.Door,
		Events:    latch.NewBusSink(endpoint, cfg.Latch.EventTarget),
		Telemetry: influx,
		Logger:    log,
	})

	log.Info("latch running", "door", cfg.Latch.Door, "event_target", cfg.Latch.EventTarget)
	if err := ctl.Run(ctx); err != nil {
		return fmt.Errorf("latch stopped in state %s: %w", ctl.State(), err)
	}
	log.Info("latch stopped")
	return nil
}
