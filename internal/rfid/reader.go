package rfid

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/queeriouslabs/secbot/internal/schema"
)

// OpenPermission is requested for every scanned badge.
const OpenPermission = "/open"

// Requester is the part of *bus.Bus the reader uses.
type Requester interface {
	Request(ctx context.Context, address string, msg schema.Message) (schema.Message, error)
}

// Logger is the logging surface the reader needs.
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

// Options configures a Reader.
type Options struct {
	// Name is the reader's bus address and src_id.
	Name string

	// Authorizer receives the permission requests.
	Authorizer string

	// Target is the device the request asks to act on.
	Target string

	RequestTimeout time.Duration
	Logger         Logger
}

// Reader turns badge scans into /open requests to the authorizer.
type Reader struct {
	req  Requester
	opts Options
	log  Logger
}

// New creates a Reader. Zero fields in opts get the front door defaults.
func New(req Requester, opts Options) *Reader {
	if opts.Name == "" {
		opts.Name = "front_door_rfid"
	}
	if opts.Authorizer == "" {
		opts.Authorizer = "authorizer"
	}
	if opts.Target == "" {
		opts.Target = "front_door_latch"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Reader{req: req, opts: opts, log: opts.Logger}
}

// Run decodes badges from src until it fails or ctx is cancelled and
// requests /open for each one. The caller closes the device to unblock a
// pending read on cancellation.
//
// Returns:
//   - error: nil on EOF or cancellation, otherwise the read error
func (r *Reader) Run(ctx context.Context, src EventSource) error {
	return r.loop(ctx, func(send func(string) bool) error {
		var dec Decoder
		for {
			ev, err := src.ReadOne()
			if err != nil {
				return err
			}
			if id, ok := dec.Feed(ev); ok && !send(id) {
				return nil
			}
		}
	})
}

// RunLines reads one identifier per line from input, for bench use
// without a reader attached. It returns like Run.
func (r *Reader) RunLines(ctx context.Context, input io.Reader) error {
	return r.loop(ctx, func(send func(string) bool) error {
		sc := bufio.NewScanner(input)
		for sc.Scan() {
			if !send(sc.Text()) {
				return nil
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
		return io.EOF
	})
}

// loop runs scan on its own goroutine and submits what it yields, one
// request at a time.
func (r *Reader) loop(ctx context.Context, scan func(send func(string) bool) error) error {
	ids := make(chan string)
	errc := make(chan error, 1)
	go func() {
		errc <- scan(func(id string) bool {
			select {
			case ids <- id:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil || err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case id := <-ids:
			r.Submit(ctx, id)
		}
	}
}

// Submit sends one /open request for identity. The authorizer's
// acknowledgement carries no decision, so only delivery is checked.
func (r *Reader) Submit(ctx context.Context, identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		r.log.Debug("empty scan ignored")
		return
	}

	req := schema.NewRequest(r.opts.Name, r.opts.Target,
		schema.NewPermission(OpenPermission, map[string]any{"identity": identity}))

	reqCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	r.log.Info("badge scanned", "target_id", r.opts.Target)
	resp, err := r.req.Request(reqCtx, r.opts.Authorizer, req)
	switch {
	case err != nil:
		r.log.Error("request to authorizer failed", "authorizer", r.opts.Authorizer, "error", err)
	case resp.IsEmpty():
		r.log.Warn("authorizer closed without acknowledging", "authorizer", r.opts.Authorizer)
	default:
		r.log.Debug("authorizer acknowledged", "msg", resp.Msg())
	}
}
