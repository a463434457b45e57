package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

const shellPrompt = "secbot> "

const shellHelp = `commands:
  levels                          list access levels
  list [sponsor]                  list enrolled badges
  add <id> <level> <sponsor>      enroll a badge
  modify <id> <level> [sponsor]   change a badge's level or sponsor
  remove <id>                     revoke a badge
  commit                          save the table and reload the authorizer
  unlock                          open the door once
  quit                            leave, asking to save pending changes
`

// Shell is the interactive ACL editor behind "secbotctl shell".
type Shell struct {
	term    *term.Terminal
	table   *Table
	aclPath string
	client  *Client
	latch   string
	user    string
}

// ShellOptions configures a Shell.
type ShellOptions struct {
	ACLPath string
	Client  *Client

	// Latch is the address unlock sends to.
	Latch string

	// User is recorded with unlocks.
	User string
}

// NewShell loads the ACL at opts.ACLPath and prepares a shell on rw,
// which is normally the raw-mode terminal.
func NewShell(rw io.ReadWriter, opts ShellOptions) (*Shell, error) {
	table, err := LoadTable(opts.ACLPath)
	if err != nil {
		return nil, err
	}
	return &Shell{
		term:    term.NewTerminal(rw, shellPrompt),
		table:   table,
		aclPath: opts.ACLPath,
		client:  opts.Client,
		latch:   opts.Latch,
		user:    opts.User,
	}, nil
}

// Run reads commands until quit, EOF or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	s.printf("secbot ACL shell, %d badges at %d levels. Type help.\n",
		len(s.table.Badges()), len(s.table.Levels()))

	for ctx.Err() == nil {
		line, err := s.term.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.quit(ctx)
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return s.quit(ctx)
		}
		if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
			s.printf("error: %v\n", err)
		}
	}
	return nil
}

func (s *Shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		s.printf("%s", shellHelp)

	case "levels":
		for _, l := range s.table.Levels() {
			s.printf("  %-12s %02d:00-%02d:00\n", l.Name, l.Start, l.End)
		}

	case "list":
		for _, b := range s.table.Badges() {
			if len(args) > 0 && b.Sponsor != args[0] {
				continue
			}
			s.printf("  %-14s %-12s %s\n", b.ID, b.Level, b.Sponsor)
		}

	case "add":
		if len(args) != 3 {
			return errors.New("usage: add <id> <level> <sponsor>")
		}
		if err := s.table.Add(args[0], args[1], args[2]); err != nil {
			return err
		}
		s.printf("%s enrolled at %s by %s (uncommitted)\n", args[0], args[1], args[2])

	case "modify":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: modify <id> <level> [sponsor]")
		}
		sponsor := ""
		if len(args) == 3 {
			sponsor = args[2]
		}
		if err := s.table.Modify(args[0], args[1], sponsor); err != nil {
			return err
		}
		s.printf("%s modified (uncommitted)\n", args[0])

	case "remove":
		if len(args) != 1 {
			return errors.New("usage: remove <id>")
		}
		if err := s.table.Remove(args[0]); err != nil {
			return err
		}
		s.printf("%s removed (uncommitted)\n", args[0])

	case "commit":
		return s.commit(ctx)

	case "unlock":
		if err := s.client.Unlock(ctx, s.latch, s.user); err != nil {
			return err
		}
		s.printf("unlock sent to %s\n", s.latch)

	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (s *Shell) commit(ctx context.Context) error {
	if !s.table.Dirty() {
		s.printf("nothing to commit\n")
		return nil
	}
	if err := s.table.Save(s.aclPath); err != nil {
		return err
	}
	s.printf("saved %s\n", s.aclPath)
	if err := s.client.Reload(ctx); err != nil {
		return fmt.Errorf("saved, but reload failed: %w", err)
	}
	s.printf("authorizer reloading\n")
	return nil
}

func (s *Shell) quit(ctx context.Context) error {
	if !s.table.Dirty() {
		return nil
	}
	s.term.SetPrompt("save changes? [y/N] ")
	answer, err := s.term.ReadLine()
	s.term.SetPrompt(shellPrompt)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		return s.commit(ctx)
	}
	s.printf("changes discarded\n")
	return nil
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.term, format, args...) //nolint:errcheck // terminal output is best effort
}
