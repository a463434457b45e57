// Package bus is the local IPC substrate every secbot service uses.
//
// Each service owns one Bus named by its endpoint address ("authorizer",
// "front_door_latch", ...). The address maps to a Unix socket at
// <socket_root>/<address>.sock. Messages are JSON objects, one per
// "\n"-terminated line.
//
// # Server side
//
// Start listens on the endpoint's socket. Every line a peer sends is
// decoded and, unless Options.AcceptAny is set, validated as a request.
// The peer's source_id then becomes the owner of that connection (a
// second connection announcing the same source_id replaces and closes the
// first) and the message is queued on In. A line that fails decoding or
// validation closes the connection without a reply.
//
// Reply queues a response; the responder goroutine writes it to the
// connection owned by the response's source_id, or drops it if that peer
// is gone.
//
// # Client side
//
// Request dials the peer (reusing an open connection), writes one request
// line and reads exactly one line back. Notify writes one line and reads
// nothing. Transport failures surface as ErrConnection and are never
// retried; the failed connection is forgotten so the next call redials.
//
// # Shutdown
//
// Stop is idempotent. It closes the listener and all connections, waits
// for the bus goroutines and removes the socket file. Start arranges for
// Stop to run when its context ends, so binaries pass a
// signal.NotifyContext context and the socket is gone after SIGTERM.
package bus
