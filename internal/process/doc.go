// Package process supervises the secbot service binaries.
//
// Each service runs as a child in its own process group. Its stdout and
// stderr are forwarded line by line into the supervisor's log. Stop sends
// SIGTERM and escalates to SIGKILL after a grace period, which gives the
// latch time to de-energize its relay.
//
// Services may be restarted after a delay when they exit on their own.
// The latch is configured without restart: once its relay has failed the
// door stays locked until an operator has looked at it.
//
// Example usage:
//
//	sup, err := process.NewSupervisor([]process.Config{
//	    {Name: "authorizer", Binary: "/usr/local/bin/authorizer", RestartOnFailure: true},
//	    {Name: "front_door_latch", Binary: "/usr/local/bin/latch"},
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	return sup.Run(ctx)
package process
