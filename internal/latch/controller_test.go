package latch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/queeriouslabs/secbot/internal/clock"
	"github.com/queeriouslabs/secbot/internal/schema"
)

const waitTimeout = 5 * time.Second

type fakeInbox struct {
	in      chan schema.Message
	replies chan schema.Message
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{
		in:      make(chan schema.Message, 16),
		replies: make(chan schema.Message, 16),
	}
}

func (f *fakeInbox) In() <-chan schema.Message { return f.in }

func (f *fakeInbox) Reply(_ context.Context, msg schema.Message) error {
	f.replies <- msg
	return nil
}

type recordSink struct {
	events chan schema.Message
}

func (s *recordSink) Emit(_ context.Context, ev schema.Message) error {
	s.events <- ev
	return nil
}

type recordTelemetry struct {
	mu     sync.Mutex
	states []string
}

func (r *recordTelemetry) LatchTransition(_, _, state string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordTelemetry) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

type harness struct {
	t         *testing.T
	clk       *clock.FakeClock
	relay     *SimRelay
	inbox     *fakeInbox
	sink      *recordSink
	telemetry *recordTelemetry
	ctrl      *Controller
	cancel    context.CancelFunc
	done      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		clk:       clock.Fake(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)),
		relay:     NewSimRelay(),
		inbox:     newFakeInbox(),
		sink:      &recordSink{events: make(chan schema.Message, 32)},
		telemetry: &recordTelemetry{},
		done:      make(chan error, 1),
	}
	h.ctrl = New(h.inbox, h.relay, Options{
		Name:      "front_door_latch",
		Door:      "front_door",
		Clock:     h.clk,
		Events:    h.sink,
		Telemetry: h.telemetry,
	})
	return h
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.t.Cleanup(cancel)
	go func() { h.done <- h.ctrl.Run(ctx) }()
	h.expectEvent("/front_door/ready")
}

func (h *harness) expectEvent(name string) {
	h.t.Helper()
	select {
	case ev := <-h.sink.events:
		if ev.Event() != name {
			h.t.Fatalf("event = %q, want %q", ev.Event(), name)
		}
		if ev.SourceID() != "front_door_latch" {
			h.t.Fatalf("event src_id = %q", ev.SourceID())
		}
	case <-time.After(waitTimeout):
		h.t.Fatalf("no %s event", name)
	}
}

func (h *harness) expectNoEvent() {
	h.t.Helper()
	select {
	case ev := <-h.sink.events:
		h.t.Fatalf("unexpected event %s", ev.Event())
	default:
	}
}

func (h *harness) reply() schema.Message {
	h.t.Helper()
	select {
	case msg := <-h.inbox.replies:
		return msg
	case <-time.After(waitTimeout):
		h.t.Fatal("request was not acknowledged")
		return nil
	}
}

// deliver sends msg followed by a request without grants and waits for
// both acknowledgements. The controller handles requests in order, so on
// return msg has been fully processed.
func (h *harness) deliver(msg schema.Message) {
	h.t.Helper()
	h.inbox.in <- msg
	h.inbox.in <- schema.NewRequest("status_check", "front_door_latch", schema.NewPermission("/status", nil))
	h.reply()
	h.reply()
}

func grant(granted bool) schema.Message {
	p := schema.NewPermission("/open", map[string]any{"identity": "0001234567"})
	p["grant"] = granted
	return schema.NewRequest("authorizer", "front_door_latch", p)
}

func TestController_StartupForcesClosed(t *testing.T) {
	h := newHarness(t)
	if err := h.relay.Energize(); err != nil {
		t.Fatalf("Energize() error = %v", err)
	}

	h.start()

	if h.relay.Energized() {
		t.Error("relay still energized after start")
	}
	if got := h.ctrl.State(); got != StateClosedCool {
		t.Errorf("State() = %v, want closed/cool", got)
	}
}

func TestController_AcknowledgesEveryRequest(t *testing.T) {
	h := newHarness(t)
	h.start()

	req := grant(false)
	req["origin_id"] = "front_door_rfid"
	h.inbox.in <- req

	ack := h.reply()
	if code, ok := ack.Code(); !ok || code != schema.CodeOK {
		t.Errorf("ack code = %v, %v", code, ok)
	}
	if ack.Msg() != "OK" {
		t.Errorf("ack msg = %q", ack.Msg())
	}
	if ack.SourceID() != "authorizer" || ack.TargetID() != "front_door_latch" {
		t.Errorf("ack routed to %q/%q", ack.SourceID(), ack.TargetID())
	}
	if _, ok := ack["permissions"]; ok {
		t.Error("ack carries permissions")
	}
	if ack["origin_id"] != "front_door_rfid" {
		t.Error("ack dropped extra request fields")
	}
	if err := schema.Validate(schema.KindResponse, ack); err != nil {
		t.Errorf("ack is not a valid response: %v", err)
	}
}

func TestController_IgnoresNonGrants(t *testing.T) {
	tests := []struct {
		name string
		msg  schema.Message
	}{
		{"denied open", grant(false)},
		{"no grant field", schema.NewRequest("authorizer", "front_door_latch", schema.NewPermission("/open", nil))},
		{"granted other perm", func() schema.Message {
			p := schema.NewPermission("/reload", nil)
			p["grant"] = true
			return schema.NewRequest("authorizer", "front_door_latch", p)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start()

			h.deliver(tt.msg)

			if n := h.relay.Energizes(); n != 0 {
				t.Errorf("Energize called %d times", n)
			}
			h.expectNoEvent()
		})
	}
}

func TestController_PathQualifiedOpen(t *testing.T) {
	h := newHarness(t)
	h.start()

	p := schema.NewPermission("/front_door/open", nil)
	p["grant"] = true
	h.inbox.in <- schema.NewRequest("unlock_cli", "front_door_latch", p)

	h.expectEvent("/front_door/open")
	if !h.relay.Energized() {
		t.Error("relay not energized")
	}
}

func TestController_OtherDoorIgnored(t *testing.T) {
	h := newHarness(t)
	h.start()

	p := schema.NewPermission("/back_door/open", nil)
	p["grant"] = true
	h.deliver(schema.NewRequest("unlock_cli", "front_door_latch", p))

	h.expectNoEvent()
	if h.relay.Energized() || h.relay.Energizes() != 0 {
		t.Error("grant for another door energized the relay")
	}
	if h.ctrl.State() != StateClosedCool {
		t.Errorf("state = %s, want Closed/Cool", h.ctrl.State())
	}
}

func TestController_MinimumCycle(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.inbox.in <- grant(true)
	h.expectEvent("/front_door/open")
	if !h.relay.Energized() || h.ctrl.State() != StateOpenHot {
		t.Fatalf("after grant: energized=%v state=%v", h.relay.Energized(), h.ctrl.State())
	}

	// A second grant while open is discarded.
	h.deliver(grant(true))
	if n := h.relay.Energizes(); n != 1 {
		t.Fatalf("Energize called %d times, want 1", n)
	}
	h.expectNoEvent()

	h.clk.Advance(HoldTime - time.Millisecond)
	h.deliver(grant(false))
	if !h.relay.Energized() {
		t.Fatal("relay closed before the hold time")
	}
	h.expectNoEvent()

	h.clk.Advance(time.Millisecond)
	h.expectEvent("/front_door/cooling")
	if h.relay.Energized() || h.ctrl.State() != StateClosedHot {
		t.Fatalf("after hold: energized=%v state=%v", h.relay.Energized(), h.ctrl.State())
	}

	// Cooling down: still not re-openable.
	h.deliver(grant(true))
	if n := h.relay.Energizes(); n != 1 {
		t.Fatalf("re-opened during cooldown (%d energizes)", n)
	}

	h.clk.Advance(Cooldown - time.Millisecond)
	h.deliver(grant(true))
	if n := h.relay.Energizes(); n != 1 {
		t.Fatalf("re-opened before 6s (%d energizes)", n)
	}
	h.expectNoEvent()

	h.clk.Advance(time.Millisecond)
	h.expectEvent("/front_door/ready")
	if h.ctrl.State() != StateClosedCool {
		t.Fatalf("State() = %v, want closed/cool", h.ctrl.State())
	}

	h.inbox.in <- grant(true)
	h.expectEvent("/front_door/open")
	if n := h.relay.Energizes(); n != 2 {
		t.Errorf("Energize called %d times, want 2", n)
	}

	want := []string{"ready", "open", "cooling", "ready", "open"}
	got := h.telemetry.snapshot()
	if len(got) != len(want) {
		t.Fatalf("telemetry = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("telemetry[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestController_RetryThenOpen(t *testing.T) {
	h := newHarness(t)
	h.relay.FailNext(2)
	h.start()

	h.deliver(grant(true))
	if n := h.relay.Energizes(); n != 1 {
		t.Fatalf("Energize called %d times, want 1", n)
	}

	// A grant during the retry loop is discarded, not queued.
	h.deliver(grant(true))

	h.clk.WaitForTimers(1)
	h.clk.Advance(RetryBackoff)
	// The failed second attempt re-arms the retry timer.
	h.clk.WaitForTimers(1)
	if n := h.relay.Energizes(); n != 2 {
		t.Fatalf("Energize called %d times, want 2", n)
	}

	h.clk.WaitForTimers(1)
	h.clk.Advance(RetryBackoff)
	h.expectEvent("/front_door/open")
	if n := h.relay.Energizes(); n != 3 {
		t.Errorf("Energize called %d times, want 3", n)
	}
	h.expectNoEvent()
}

func TestController_FailsAfterRetryWindow(t *testing.T) {
	h := newHarness(t)
	h.relay.FailAlways()
	h.start()

	h.deliver(grant(true))

	// Attempts at 0, 0.2, 0.4, 0.6, 0.8 and 1.0s; the tick at 1.2s is
	// past the window.
	for range 6 {
		h.clk.WaitForTimers(1)
		h.clk.Advance(RetryBackoff)
	}

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrRelayFailed) {
			t.Fatalf("Run() error = %v, want ErrRelayFailed", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("controller did not fail")
	}

	if h.ctrl.State() != StateFailed {
		t.Errorf("State() = %v, want failed", h.ctrl.State())
	}
	attempts := h.relay.Energizes()
	if attempts != 6 {
		t.Errorf("Energize called %d times, want 6", attempts)
	}

	h.inbox.in <- grant(true)
	h.clk.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := h.relay.Energizes(); n != attempts {
		t.Errorf("Energize called after failure (%d > %d)", n, attempts)
	}
	h.expectNoEvent()

	got := h.telemetry.snapshot()
	if got[len(got)-1] != "failed" {
		t.Errorf("last telemetry state = %q, want failed", got[len(got)-1])
	}
}

func TestController_ShutdownMidCycle(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.inbox.in <- grant(true)
	h.expectEvent("/front_door/open")

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
	if h.relay.Energized() {
		t.Error("relay left energized after graceful stop")
	}
}

type fakeNotifier struct {
	address string
	msg     schema.Message
}

func (f *fakeNotifier) Notify(_ context.Context, address string, msg schema.Message) error {
	f.address, f.msg = address, msg
	return nil
}

func TestBusSink(t *testing.T) {
	n := &fakeNotifier{}
	sink := NewBusSink(n, "broadcast")

	ev := schema.NewEvent("front_door_latch", "/front_door/open")
	if err := sink.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if n.address != "broadcast" || n.msg.Event() != "/front_door/open" {
		t.Errorf("notified %q with %v", n.address, n.msg)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
		open  bool
		hot   bool
	}{
		{StateClosedCool, "closed/cool", false, false},
		{StateOpenHot, "open/hot", true, true},
		{StateClosedHot, "closed/hot", false, true},
		{StateFailed, "failed", false, false},
		{State(42), "unknown", false, false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if tt.state.Open() != tt.open || tt.state.Hot() != tt.hot {
			t.Errorf("%s: Open()=%v Hot()=%v", tt.want, tt.state.Open(), tt.state.Hot())
		}
	}
}
