package bus

import (
	"time"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultQueueSize   = 64
	DefaultMaxLineSize = 64 * 1024

	// writeTimeout bounds a single line write, so one stuck peer cannot
	// stall the responder loop.
	writeTimeout = 5 * time.Second

	socketPermissions = 0660
	rootPermissions   = 0750
)

// Logger is the logging surface the bus needs. *logging.Logger and
// *slog.Logger both satisfy it.
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

// Options configures a Bus.
type Options struct {
	// SocketRoot is the directory holding every endpoint's socket file.
	SocketRoot string

	// RequestTimeout bounds each Request on top of the caller's context.
	// Zero means only the context bounds it.
	RequestTimeout time.Duration

	// QueueSize is the capacity of the inbound and outbound queues.
	// A full inbound queue stops reading from the peer that filled it.
	QueueSize int

	// MaxLineSize is the longest line accepted from a peer, in bytes.
	MaxLineSize int

	// AcceptAny makes the server accept any JSON object that names its
	// sender in source_id or src_id, instead of only schema-valid requests.
	AcceptAny bool

	// Logger receives connection lifecycle records. Nil disables logging.
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.SocketRoot == "" {
		o.SocketRoot = "."
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = DefaultMaxLineSize
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}
