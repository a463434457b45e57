package latch

import (
	"context"
	"time"

	"github.com/queeriouslabs/secbot/internal/schema"
)

// Event names, appended to "/<door>/".
const (
	EventOpen    = "open"
	EventCooling = "cooling"
	EventReady   = "ready"
)

// EventSink receives the controller's status events.
type EventSink interface {
	Emit(ctx context.Context, event schema.Message) error
}

// Notifier is the part of *bus.Bus a BusSink needs.
type Notifier interface {
	Notify(ctx context.Context, address string, msg schema.Message) error
}

// BusSink sends events fire-and-forget to one bus address.
type BusSink struct {
	bus    Notifier
	target string
}

// NewBusSink returns a sink that notifies target through n.
func NewBusSink(n Notifier, target string) *BusSink {
	return &BusSink{bus: n, target: target}
}

// Emit writes event to the target without waiting for a reply.
func (s *BusSink) Emit(ctx context.Context, event schema.Message) error {
	return s.bus.Notify(ctx, s.target, event)
}

// Telemetry records state transitions. *influxdb.Client satisfies it,
// including a nil client.
type Telemetry interface {
	LatchTransition(latch, door, state string, at time.Time)
}

type noTelemetry struct{}

func (noTelemetry) LatchTransition(string, string, string, time.Time) {}

type discardSink struct{}

func (discardSink) Emit(context.Context, schema.Message) error { return nil }
