// Package app holds the start-up sequence shared by the secbot binaries:
// flags, configuration, logging and the optional storage and telemetry
// backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	_ "github.com/queeriouslabs/secbot/migrations" // registers the audit schema

	"github.com/queeriouslabs/secbot/internal/audit"
	"github.com/queeriouslabs/secbot/internal/bus"
	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
	"github.com/queeriouslabs/secbot/internal/infrastructure/database"
	"github.com/queeriouslabs/secbot/internal/infrastructure/influxdb"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
)

// ErrHelp is returned by ParseFlags after printing usage for -h.
var ErrHelp = pflag.ErrHelp

// Flags are the options every binary accepts.
type Flags struct {
	// ConfigPath overrides SECBOT_CONFIG.
	ConfigPath string

	// LogLevel overrides logging.level.
	LogLevel string

	Version bool

	set *pflag.FlagSet
}

// Args returns the positional arguments left after parsing.
func (f *Flags) Args() []string { return f.set.Args() }

// ParseFlags parses args (without the program name) into the common
// flags. extra, when not nil, registers the binary's own flags first.
// Parsing stops at the first positional argument, so subcommands keep
// their own flags.
//
// Returns:
//   - *Flags: The parsed flags
//   - error: ErrHelp after usage was printed, or a parse error
func ParseFlags(name string, args []string, usage io.Writer, extra func(*pflag.FlagSet)) (*Flags, error) {
	f := &Flags{set: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.set.SetOutput(usage)
	if extra != nil {
		extra(f.set)
	}
	f.set.StringVarP(&f.ConfigPath, "config", "c", config.Path(), "configuration file (env SECBOT_CONFIG)")
	f.set.StringVar(&f.LogLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	f.set.BoolVar(&f.Version, "version", false, "print version and exit")

	f.set.SetInterspersed(false)

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads the configuration named by the flags and applies overrides.
func (f *Flags) Load() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	return cfg, nil
}

// IsHelp reports whether err is the result of -h or --help.
func IsHelp(err error) bool {
	return errors.Is(err, pflag.ErrHelp)
}

// OpenBus creates and starts the endpoint for address.
func OpenBus(ctx context.Context, cfg config.BusConfig, address string, acceptAny bool, log *logging.Logger) (*bus.Bus, error) {
	b, err := bus.New(address, bus.Options{
		SocketRoot:     cfg.SocketRoot,
		RequestTimeout: cfg.RequestTimeout,
		QueueSize:      cfg.QueueSize,
		MaxLineSize:    cfg.MaxLineSize,
		AcceptAny:      acceptAny,
		Logger:         log.With("component", "bus"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bus endpoint: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bus endpoint %s: %w", address, err)
	}
	log.Info("bus endpoint listening", "address", address, "path", b.Path())
	return b, nil
}

// DialBus creates an endpoint for address that only sends. Its socket
// file is never created, so it can run beside a serving endpoint of the
// same name.
func DialBus(cfg config.BusConfig, address string, log *logging.Logger) (*bus.Bus, error) {
	b, err := bus.New(address, bus.Options{
		SocketRoot:     cfg.SocketRoot,
		RequestTimeout: cfg.RequestTimeout,
		QueueSize:      cfg.QueueSize,
		MaxLineSize:    cfg.MaxLineSize,
		Logger:         log.With("component", "bus"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bus endpoint: %w", err)
	}
	return b, nil
}

// OpenAudit opens and migrates the audit database. With the database
// disabled it returns a nil repository and a no-op close.
//
// Returns:
//   - *audit.SQLiteRepository: The audit trail, or nil when disabled
//   - func(): Closes the database
//   - error: If the database cannot be opened or migrated
func OpenAudit(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*audit.SQLiteRepository, func(), error) {
	if !cfg.Enabled {
		log.Info("audit database disabled")
		return nil, func() {}, nil
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("audit database ready", "path", db.Path())

	closeFn := func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}
	return audit.NewSQLiteRepository(db.DB), closeFn, nil
}

// ConnectInflux connects the telemetry writer. With InfluxDB disabled it
// returns a nil client, whose write methods do nothing.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, func(), error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)

	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	return client, closeFn, nil
}
