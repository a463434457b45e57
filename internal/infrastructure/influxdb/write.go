package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLatch  = "latch_transition"
	measurementAccess = "access_decision"
)

// LatchTransition records one latch state change.
//
// Parameters:
//   - latch: Bus address of the latch (e.g., "front_door_latch")
//   - door: Door name used in events (e.g., "front_door")
//   - state: New state ("open", "cooling", "ready", "failed")
//   - at: When the transition happened
func (c *Client) LatchTransition(latch, door, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(latchPoint(latch, door, state, at))
}

// AccessDecision records one evaluated permission. The badge identity is
// deliberately not a tag; it stays in the SQLite audit trail.
func (c *Client) AccessDecision(source, perm, level string, granted bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(accessPoint(source, perm, level, granted, at))
}

func latchPoint(latch, door, state string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementLatch,
		map[string]string{
			"latch": latch,
			"door":  door,
			"state": state,
		},
		map[string]any{
			"count": 1,
		},
		at,
	)
}

func accessPoint(source, perm, level string, granted bool, at time.Time) *write.Point {
	tags := map[string]string{
		"source": source,
		"perm":   perm,
	}
	if level != "" {
		tags["level"] = level
	}
	return write.NewPoint(
		measurementAccess,
		tags,
		map[string]any{
			"granted": granted,
		},
		at,
	)
}
