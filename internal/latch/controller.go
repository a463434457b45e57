package latch

import (
	"context"
	"sync"
	"time"

	"github.com/queeriouslabs/secbot/internal/clock"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// Fixed timings. The 3s hold plus 3s cooldown is the minimum cycle a
// person at the door experiences and is not configurable.
const (
	HoldTime     = 3 * time.Second
	Cooldown     = 3 * time.Second
	RetryBackoff = 200 * time.Millisecond
	RetryWindow  = time.Second

	// OpenAction is the permission the controller acts on.
	OpenAction = "/open"

	emitTimeout = 2 * time.Second
)

// Inbox is the part of *bus.Bus the controller consumes.
type Inbox interface {
	In() <-chan schema.Message
	Reply(ctx context.Context, msg schema.Message) error
}

// Logger is the logging surface the controller needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Controller. Zero fields get working defaults.
type Options struct {
	// Name is the latch's bus address, used as src_id on events.
	Name string

	// Door prefixes event names: "front_door" emits "/front_door/open".
	Door string

	Clock     clock.Clock
	Events    EventSink
	Telemetry Telemetry
	Logger    Logger
}

// Controller is the door latch state machine.
//
// All state transitions happen on the goroutine running Run; State may be
// read from anywhere.
type Controller struct {
	inbox Inbox
	relay Relay
	opts  Options
	clk   clock.Clock
	log   Logger

	mu    sync.Mutex
	state State

	// Owned by Run.
	timer        *clock.Timer
	retrying     bool
	firstAttempt time.Time
}

// New creates a controller reading grants from inbox and driving relay.
func New(inbox Inbox, relay Relay, opts Options) *Controller {
	if opts.Name == "" {
		opts.Name = "front_door_latch"
	}
	if opts.Door == "" {
		opts.Door = "front_door"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Events == nil {
		opts.Events = discardSink{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = noTelemetry{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Controller{
		inbox: inbox,
		relay: relay,
		opts:  opts,
		clk:   opts.Clock,
		log:   opts.Logger,
		state: StateClosedCool,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log.Info("latch state changed", "from", prev.String(), "to", s.String())
	}
}

// Run drives the controller until ctx is cancelled or the relay fails.
//
// On entry the relay is forced de-energized, whatever the hardware was
// doing before a restart, and a ready event is emitted. Every inbound
// request is acknowledged with code 0; a granted /open in Closed/Cool
// starts one open cycle. Grants arriving in any other state, or while an
// energize retry is in progress, are discarded.
//
// Returns:
//   - error: nil after ctx is cancelled, ErrRelayFailed if the relay did
//     not energize within RetryWindow
func (c *Controller) Run(ctx context.Context) error {
	if err := c.relay.Deenergize(); err != nil {
		c.log.Warn("initial de-energize failed", "error", err)
	}
	c.setState(StateClosedCool)
	c.emit(ctx, EventReady)

	defer func() { c.timer.Stop() }()

	for {
		var fire <-chan time.Time
		if c.timer != nil {
			fire = c.timer.C
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case msg := <-c.inbox.In():
			c.handle(ctx, msg)

		case <-fire:
			c.timer = nil
			c.tick(ctx)
		}

		if c.State() == StateFailed {
			return ErrRelayFailed
		}
	}
}

// handle acknowledges one request and starts a cycle if it grants /open.
func (c *Controller) handle(ctx context.Context, msg schema.Message) {
	if err := c.inbox.Reply(ctx, schema.NewResponse(msg, schema.CodeOK, "OK")); err != nil {
		c.log.Warn("acknowledging request failed", "source_id", msg.SourceID(), "error", err)
	}

	if !c.grantsOpen(msg) {
		c.log.Debug("request carries no granted open", "source_id", msg.SourceID())
		return
	}

	switch {
	case c.retrying:
		c.log.Info("grant discarded, energize retry in progress", "source_id", msg.SourceID())
	case c.State() != StateClosedCool:
		c.log.Info("grant discarded", "source_id", msg.SourceID(), "state", c.State().String())
	default:
		c.retrying = true
		c.firstAttempt = c.clk.Now()
		c.attempt(ctx)
	}
}

// grantsOpen reports whether msg grants "/open" or "/<door>/open".
func (c *Controller) grantsOpen(msg schema.Message) bool {
	for _, p := range msg.Permissions() {
		if p.HasAction(OpenAction, c.opts.Door) && p.Granted() {
			return true
		}
	}
	return false
}

// attempt tries to energize once. Failure arms the retry timer.
func (c *Controller) attempt(ctx context.Context) {
	if err := c.relay.Energize(); err != nil {
		c.log.Warn("energize failed",
			"error", err,
			"elapsed", c.clk.Now().Sub(c.firstAttempt))
		c.timer = c.clk.NewTimer(RetryBackoff)
		return
	}

	c.retrying = false
	c.setState(StateOpenHot)
	c.timer = c.clk.NewTimer(HoldTime)
	c.emit(ctx, EventOpen)
}

// tick handles the expiry of the single armed timer.
func (c *Controller) tick(ctx context.Context) {
	switch {
	case c.retrying:
		if c.clk.Now().Sub(c.firstAttempt) > RetryWindow {
			c.fail()
			return
		}
		c.attempt(ctx)

	case c.State() == StateOpenHot:
		if err := c.relay.Deenergize(); err != nil {
			c.log.Error("de-energize failed", "error", err)
		}
		c.setState(StateClosedHot)
		c.timer = c.clk.NewTimer(Cooldown)
		c.emit(ctx, EventCooling)

	case c.State() == StateClosedHot:
		c.setState(StateClosedCool)
		c.emit(ctx, EventReady)
	}
}

func (c *Controller) fail() {
	c.retrying = false
	c.setState(StateFailed)
	c.log.Error("relay did not energize, latch failed",
		"window", RetryWindow,
		"latch", c.opts.Name)
	c.opts.Telemetry.LatchTransition(c.opts.Name, c.opts.Door, "failed", c.clk.Now())
}

// shutdown leaves the door locked on a graceful stop. A killed process
// can still leave the relay energized; Run forces it off on restart.
func (c *Controller) shutdown() {
	if c.State() != StateOpenHot {
		return
	}
	c.log.Info("stopping mid-cycle, de-energizing relay")
	if err := c.relay.Deenergize(); err != nil {
		c.log.Error("de-energize on shutdown failed", "error", err)
	}
}

// emit sends a status event and records the transition.
func (c *Controller) emit(ctx context.Context, name string) {
	now := c.clk.Now()
	c.opts.Telemetry.LatchTransition(c.opts.Name, c.opts.Door, name, now)

	event := schema.NewEvent(c.opts.Name, "/"+c.opts.Door+"/"+name)

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := c.opts.Events.Emit(emitCtx, event); err != nil {
		c.log.Warn("emitting event failed", "event", event.Event(), "error", err)
	}
}
