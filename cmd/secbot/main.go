// Command secbot starts and supervises every secbot service on the device.
//
// Services are launched in dependency order (receivers before senders),
// their output is merged into the supervisor log, and they are stopped in
// reverse order on SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/process"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultRestartDelay = 2 * time.Second

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
	flags, err := app.ParseFlags("secbot", args, os.Stderr, nil)
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("secbot %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, "secbot", version)
	defer log.Close() //nolint:errcheck // nothing to do on close failure at exit
	log.Info("starting secbot", "version", version, "commit", commit)

	sup, err := process.NewSupervisor(serviceConfigs(cfg, flags.ConfigPath), log)
	if err != nil {
		return err
	}
	return sup.Run(ctx)
}

// serviceConfigs returns the configured services, or the standard set
// when none are listed. Relative binaries resolve against bin_dir, and
// every child is pointed at the supervisor's configuration file.
func serviceConfigs(cfg *config.Config, configPath string) []process.Config {
	services := cfg.Supervisor.Services
	if len(services) == 0 {
		services = defaultServices(cfg)
	}

	out := make([]process.Config, 0, len(services))
	for _, svc := range services {
		binary := svc.Binary
		if !filepath.IsAbs(binary) {
			binary = filepath.Join(cfg.Supervisor.BinDir, binary)
		}
		args := svc.Args
		if configPath != "" {
			args = append([]string{"--config", configPath}, args...)
		}
		delay := svc.RestartDelay
		if delay <= 0 {
			delay = defaultRestartDelay
		}
		out = append(out, process.Config{
			Name:             svc.Name,
			Binary:           binary,
			Args:             args,
			RestartOnFailure: svc.RestartOnFailure,
			RestartDelay:     delay,
		})
	}
	return out
}

// defaultServices starts broadcast and the authorizer before the latch
// and reader that send to them. The latch is not restarted.
func defaultServices(cfg *config.Config) []config.ServiceConfig {
	return []config.ServiceConfig{
		{Name: cfg.Broadcast.Name, Binary: "broadcast", RestartOnFailure: true},
		{Name: cfg.Authorizer.Name, Binary: "authorizer", RestartOnFailure: true},
		{Name: cfg.Latch.Name, Binary: "latch"},
		{Name: cfg.RFID.Name, Binary: "rfidreader", RestartOnFailure: true},
	}
}
