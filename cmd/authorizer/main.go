// Command authorizer decides who may open the door.
//
// Requests from readers are checked against the ACL file and forwarded to
// their target with a grant decision. SIGHUP or a /reload request re-reads
// the file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/authorizer"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
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

func run(ctx context.Context, args []string) error {
	flags, err := app.ParseFlags("authorizer", args, os.Stderr, nil)
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("authorizer %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, cfg.Authorizer.Name, version)
	defer log.Close() //nolint:errcheck // nothing to do on close failure at exit

	loc := time.Local
	if cfg.Authorizer.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Authorizer.Timezone); err != nil {
			return fmt.Errorf("loading timezone: %w", err)
		}
	}

	repo, closeDB, err := app.OpenAudit(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeDB()

	influx, closeInflux, err := app.ConnectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer closeInflux()

	endpoint, err := app.OpenBus(ctx, cfg.Bus, cfg.Authorizer.Name, false, log)
	if err != nil {
		return err
	}
	defer endpoint.Stop()

	opts := authorizer.Options{
		Name:      cfg.Authorizer.Name,
		ACLPath:   cfg.Authorizer.ACLFile,
		Door:      cfg.Authorizer.Door,
		Location:  loc,
		Telemetry: influx,
		Logger:    log,
	}
	if repo != nil {
		opts.Audit = repo
	}

	authz, err := authorizer.New(endpoint, opts)
	if err != nil {
		return fmt.Errorf("loading ACL: %w", err)
	}
	acl := authz.ACL()
	log.Info("ACL loaded", "path", cfg.Authorizer.ACLFile, "levels", acl.Levels(), "rfids", acl.Badges())

	go reloadOnHangup(ctx, authz, log)

	err = authz.Run(ctx)
	log.Info("authorizer stopped")
	return err
}

// reloadOnHangup re-reads the ACL on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, authz *authorizer.Authorizer, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			acl, err := authz.Reload()
			if err != nil {
				log.Error("ACL reload failed, keeping current table", "error", err)
				continue
			}
			log.Warn("ACL reloaded on SIGHUP", "levels", acl.Levels(), "rfids", acl.Badges())
		}
	}
}
