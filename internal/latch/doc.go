// Package latch implements the door latch controller.
//
// The controller reads requests from its bus endpoint, acknowledges each
// one, and runs a fixed open cycle for a granted "/open" or "/<door>/open"
// permission; open permissions for other doors are ignored:
//
//	Closed/Cool --grant--> Open/Hot --3s--> Closed/Hot --3s--> Closed/Cool
//
// Energizing the relay is retried every 200ms; if it has not succeeded one
// second after the first attempt the controller enters Failed and Run
// returns ErrRelayFailed. Failed is not recovered in-process.
//
// Status events ("/<door>/open", "/<door>/cooling", "/<door>/ready") are
// sent fire-and-forget through an EventSink, normally a BusSink notifying
// the broadcast service.
//
// Relay drivers:
//   - RelayPlate: one relay on a Pi-Plates RELAYplate over SPI
//   - GPIORelay: a GPIO line through the kernel chardev interface
//   - SimRelay: in-memory, with failure injection
package latch
