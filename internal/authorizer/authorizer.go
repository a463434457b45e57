package authorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/queeriouslabs/secbot/internal/audit"
	"github.com/queeriouslabs/secbot/internal/clock"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// Permission names the authorizer understands.
const (
	PermOpen   = "/open"
	PermReload = "/reload"
)

// Endpoint is the part of *bus.Bus the authorizer uses.
type Endpoint interface {
	In() <-chan schema.Message
	Reply(ctx context.Context, msg schema.Message) error
	Request(ctx context.Context, address string, msg schema.Message) (schema.Message, error)
}

// Recorder persists decisions and commands. *audit.SQLiteRepository
// satisfies it.
type Recorder interface {
	RecordDecision(ctx context.Context, d *audit.Decision) error
	RecordAction(ctx context.Context, a *audit.Action) error
}

// Telemetry counts decisions. *influxdb.Client satisfies it, including a
// nil client.
type Telemetry interface {
	AccessDecision(source, perm, level string, granted bool, at time.Time)
}

// Logger is the logging surface the authorizer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures an Authorizer.
type Options struct {
	// Name is the authorizer's bus address. Requests targeting it are
	// commands.
	Name string

	// ACLPath is the access table, re-read on /reload. See LoadACL for
	// the accepted layouts.
	ACLPath string

	// Door scopes door-specific open permissions: "/<Door>/open" is
	// checked like "/open". Defaults to "front_door".
	Door string

	// Location is the time zone for hour windows. Nil means time.Local.
	Location *time.Location

	Clock     clock.Clock
	Audit     Recorder
	Telemetry Telemetry
	Logger    Logger
}

// Authorizer evaluates permission requests and forwards them, with a
// grant decision on every permission, to their target.
type Authorizer struct {
	ep   Endpoint
	opts Options
	log  Logger

	acl atomic.Pointer[ACL]
}

// New creates an Authorizer and loads its ACL.
//
// Returns:
//   - *Authorizer: Ready to Run
//   - error: If the ACL cannot be loaded
func New(ep Endpoint, opts Options) (*Authorizer, error) {
	if opts.Name == "" {
		opts.Name = "authorizer"
	}
	if opts.Door == "" {
		opts.Door = "front_door"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Audit == nil {
		opts.Audit = noRecorder{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = noTelemetry{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	a := &Authorizer{ep: ep, opts: opts, log: opts.Logger}
	acl, err := LoadACL(opts.ACLPath)
	if err != nil {
		return nil, err
	}
	a.acl.Store(acl)
	return a, nil
}

// Reload re-reads the ACL file. On failure the current table stays in
// effect.
func (a *Authorizer) Reload() (*ACL, error) {
	acl, err := LoadACL(a.opts.ACLPath)
	if err != nil {
		return nil, err
	}
	a.acl.Store(acl)
	return acl, nil
}

// ACL returns the table in effect.
func (a *Authorizer) ACL() *ACL { return a.acl.Load() }

// Run serves requests until ctx is cancelled.
//
// Every request is first acknowledged to its sender with code 0. A request
// targeting the authorizer is a command; any other request is evaluated
// and forwarded to its target, one at a time and in arrival order.
func (a *Authorizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.ep.In():
			a.handle(ctx, msg)
		}
	}
}

func (a *Authorizer) handle(ctx context.Context, req schema.Message) {
	if err := a.ep.Reply(ctx, schema.NewResponse(req, schema.CodeOK, "OK")); err != nil {
		a.log.Warn("acknowledging request failed", "source_id", req.SourceID(), "error", err)
	}

	target := req.TargetID()
	if target == a.opts.Name {
		a.command(ctx, req)
		return
	}

	a.log.Info("request received", "source_id", req.SourceID(), "target_id", target)
	fwd := a.Evaluate(ctx, req)

	resp, err := a.ep.Request(ctx, target, fwd)
	switch {
	case err != nil:
		a.log.Error("forwarding request failed", "target_id", target, "error", err)
	case resp.IsEmpty():
		a.log.Warn("target closed without acknowledging", "target_id", target)
	default:
		a.log.Debug("target acknowledged", "target_id", target, "msg", resp.Msg())
	}
}

// Evaluate returns the request to forward for req: a copy sent from the
// authorizer, with origin_id naming the original sender and a grant
// boolean on every permission. Badge identities are stripped from the
// forwarded contexts; each decision is audited with its identity.
func (a *Authorizer) Evaluate(ctx context.Context, req schema.Message) schema.Message {
	fwd := req.Clone()
	origin := req.SourceID()
	fwd["source_id"] = a.opts.Name
	fwd["origin_id"] = origin

	acl := a.acl.Load()
	now := a.opts.Clock.Now()
	hour := now.In(a.opts.Location).Hour()

	perms := fwd.Permissions()
	for _, p := range perms {
		identity := identityOf(p)
		stripIdentity(p)

		d := Decision{Reason: ReasonNotAuthority}
		if p.HasAction(PermOpen, a.opts.Door) {
			d = acl.Check(identity, hour)
		}
		p["grant"] = d.Granted

		a.log.Info("access decision",
			"origin_id", origin,
			"perm", p.Perm(),
			"granted", d.Granted,
			"reason", d.Reason)
		a.opts.Telemetry.AccessDecision(origin, p.Perm(), d.Level, d.Granted, now)
		if err := a.opts.Audit.RecordDecision(ctx, &audit.Decision{
			OccurredAt: now,
			SourceID:   origin,
			TargetID:   req.TargetID(),
			Identity:   identity,
			Perm:       p.Perm(),
			Granted:    d.Granted,
			Reason:     d.Reason,
			Level:      d.Level,
		}); err != nil {
			a.log.Error("recording decision failed", "error", err)
		}
	}
	fwd.SetPermissions(perms)
	return fwd
}

// command handles a request addressed to the authorizer itself.
func (a *Authorizer) command(ctx context.Context, req schema.Message) {
	for _, p := range req.Permissions() {
		action := &audit.Action{
			OccurredAt: a.opts.Clock.Now(),
			SourceID:   req.SourceID(),
			Action:     p.Perm(),
		}

		switch p.Perm() {
		case PermReload:
			acl, err := a.Reload()
			if err != nil {
				a.log.Error("ACL reload failed, keeping current table", "error", err)
				action.Outcome = "error"
				action.Details = map[string]any{"error": err.Error()}
			} else {
				a.log.Warn("ACL reloaded", "levels", acl.Levels(), "rfids", acl.Badges())
				action.Outcome = "ok"
				action.Details = map[string]any{"levels": acl.Levels(), "rfids": acl.Badges()}
			}
		default:
			a.log.Warn("unknown command", "perm", p.Perm(), "source_id", req.SourceID())
			action.Outcome = "unknown"
		}

		if err := a.opts.Audit.RecordAction(ctx, action); err != nil {
			a.log.Error("recording command failed", "error", err)
		}
	}
}

var identityKeys = []string{"identity", "identifier"}

// identityOf reads the badge identity from a permission context. Readers
// send it as "identity" or "identifier", as a string or a number.
func identityOf(p schema.Permission) string {
	ctx := p.Context()
	for _, key := range identityKeys {
		switch v := ctx[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case json.Number:
			return v.String()
		case int, int64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// stripIdentity removes the badge identity from p's context so it does
// not travel past the authorizer.
func stripIdentity(p schema.Permission) {
	for _, field := range []string{"context", "ctx"} {
		ctx, _ := p[field].(map[string]any)
		for _, key := range identityKeys {
			delete(ctx, key)
		}
	}
}

type noRecorder struct{}

func (noRecorder) RecordDecision(context.Context, *audit.Decision) error { return nil }
func (noRecorder) RecordAction(context.Context, *audit.Action) error     { return nil }

type noTelemetry struct{}

func (noTelemetry) AccessDecision(string, string, string, bool, time.Time) {}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
