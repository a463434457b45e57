// Command secbotctl is the operator's tool for a running secbot device.
//
// Usage:
//
//	secbotctl [-c config] reload
//	secbotctl [-c config] unlock [--target latch]
//	secbotctl [-c config] audit [--identity id] [--granted|--denied] [--since 24h] [--limit n]
//	secbotctl [-c config] shell
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/queeriouslabs/secbot/internal/admin"
	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/audit"
	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// clientName is secbotctl's bus address.
const clientName = "secbotctl"

const usage = `usage: secbotctl [-c config] <command> [flags]

commands:
  reload   ask the authorizer to re-read the ACL file
  unlock   open the door once, bypassing the authorizer
  audit    list recent access decisions
  shell    edit the ACL interactively
`

var errUsage = errors.New("missing or unknown command")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if app.IsHelp(err) {
			return
		}
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags, err := app.ParseFlags(clientName, args, os.Stderr, nil)
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Fprintf(out, "secbotctl %s (%s)\n", version, commit)
		return nil
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return errUsage
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	// Operator commands log to stderr so the device log only holds service records.
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	if flags.LogLevel == "" {
		logCfg.Level = "warn"
	}
	log := logging.New(logCfg, clientName, version)

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "reload":
		return reload(ctx, cfg, log, out)
	case "unlock":
		return unlock(ctx, cfg, cmdArgs, log, out)
	case "audit":
		return listAudit(ctx, cfg, cmdArgs, log, out)
	case "shell":
		return shell(ctx, cfg, log)
	default:
		return fmt.Errorf("%w: %q", errUsage, cmd)
	}
}

// newClient builds the admin client, with the audit trail when enabled.
func newClient(ctx context.Context, cfg *config.Config, log *logging.Logger) (*admin.Client, func(), error) {
	endpoint, err := app.DialBus(cfg.Bus, clientName, log)
	if err != nil {
		return nil, nil, err
	}
	repo, closeDB, err := app.OpenAudit(ctx, cfg.Database, log)
	if err != nil {
		endpoint.Stop()
		return nil, nil, err
	}

	var recorder admin.ActionRecorder
	if repo != nil {
		recorder = repo
	}
	cleanup := func() {
		endpoint.Stop()
		closeDB()
	}
	return admin.NewClient(endpoint, clientName, cfg.Authorizer.Name, recorder), cleanup, nil
}

func reload(ctx context.Context, cfg *config.Config, log *logging.Logger, out io.Writer) error {
	client, cleanup, err := newClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.Reload(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "reload sent to %s\n", cfg.Authorizer.Name)
	return nil
}

func unlock(ctx context.Context, cfg *config.Config, args []string, log *logging.Logger, out io.Writer) error {
	fs := pflag.NewFlagSet("unlock", pflag.ContinueOnError)
	target := fs.String("target", cfg.Latch.Name, "latch bus address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, cleanup, err := newClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	operator := currentUser()
	log.Warn("remote unlock", "user", operator, "target_id", *target)
	if err := client.Unlock(ctx, *target, operator); err != nil {
		return err
	}
	fmt.Fprintf(out, "unlock sent to %s\n", *target)
	return nil
}

func listAudit(ctx context.Context, cfg *config.Config, args []string, log *logging.Logger, out io.Writer) error {
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	identity := fs.String("identity", "", "only this badge")
	granted := fs.Bool("granted", false, "only grants")
	denied := fs.Bool("denied", false, "only denials")
	since := fs.Duration("since", 0, "only decisions newer than this, e.g. 24h")
	limit := fs.Int("limit", 50, "decisions per page (max 500)")
	offset := fs.Int("offset", 0, "skip this many decisions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *granted && *denied {
		return errors.New("--granted and --denied are exclusive")
	}

	repo, closeDB, err := app.OpenAudit(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeDB()
	if repo == nil {
		return errors.New("audit database is disabled (database.enabled)")
	}

	filter := audit.Filter{Identity: *identity, Limit: *limit, Offset: *offset}
	if *granted || *denied {
		g := *granted
		filter.Granted = &g
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	res, err := repo.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit trail: %w", err)
	}
	return admin.WriteDecisions(out, res, nil)
}

func shell(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("shell needs an interactive terminal")
	}

	client, cleanup, err := newClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("setting terminal raw mode: %w", err)
	}
	defer term.Restore(fd, state) //nolint:errcheck // best effort on the way out

	console := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}

	sh, err := admin.NewShell(console, admin.ShellOptions{
		ACLPath: cfg.Authorizer.ACLFile,
		Client:  client,
		Latch:   cfg.Latch.Name,
		User:    currentUser(),
	})
	if err != nil {
		return err
	}
	return sh.Run(ctx)
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
