// Package influxdb writes door telemetry to InfluxDB v2.
//
// Two measurements are produced:
//
//	latch_transition  tags: latch, door, state       fields: count
//	access_decision   tags: source, perm, level      fields: granted
//
// Telemetry is optional. Connect returns ErrDisabled when it is turned off
// and every write method is a no-op on a nil *Client, so callers never
// branch on whether telemetry is configured.
//
// # Usage
//
//	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    logger.Warn("telemetry unavailable", "error", err)
//	}
//	defer influx.Close()
//	influx.LatchTransition("front_door_latch", "front_door", "open", time.Now())
package influxdb
