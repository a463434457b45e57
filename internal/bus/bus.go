package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/queeriouslabs/secbot/internal/schema"
)

// Bus is one process's endpoint on the secbot bus.
//
// A Bus optionally listens on <SocketRoot>/<name>.sock (Start), dials
// other endpoints on demand (Connect, Request, Notify), exposes every
// accepted inbound message on In, and routes messages passed to Reply back
// to the connection whose peer announced the message's source_id.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Messages from one connection reach In in the order they were sent.
type Bus struct {
	name string
	opts Options
	path string
	log  Logger

	in  chan schema.Message
	out chan schema.Message

	// done is closed by Stop.
	done chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	listener net.Listener
	cancel   context.CancelFunc
	unwatch  func() bool
	peers    map[string]*serverConn
	accepted map[*serverConn]struct{}

	dialMu sync.Mutex
	dialed map[string]*clientConn

	wg sync.WaitGroup
}

// New creates a Bus for the endpoint address name. Nothing touches the
// filesystem or network until Start, Connect, Request or Notify.
func New(name string, opts Options) (*Bus, error) {
	if err := checkAddress(name); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Bus{
		name:     name,
		opts:     opts,
		path:     SocketPath(opts.SocketRoot, name),
		log:      opts.Logger,
		in:       make(chan schema.Message, opts.QueueSize),
		out:      make(chan schema.Message, opts.QueueSize),
		done:     make(chan struct{}),
		peers:    make(map[string]*serverConn),
		accepted: make(map[*serverConn]struct{}),
		dialed:   make(map[string]*clientConn),
	}, nil
}

// SocketPath returns the socket file for address under root.
func SocketPath(root, address string) string {
	return filepath.Join(root, address+".sock")
}

func checkAddress(address string) error {
	if address == "" || address == "." || address == ".." ||
		strings.ContainsAny(address, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// Name returns this endpoint's address.
func (b *Bus) Name() string { return b.name }

// Path returns this endpoint's socket file.
func (b *Bus) Path() string { return b.path }

// In returns the inbound queue. Every accepted message is delivered here,
// after its sender has been recorded as the owner of its connection.
func (b *Bus) In() <-chan schema.Message { return b.in }

// Start begins listening on this endpoint's socket and launches the
// accept loop and the responder loop.
//
// A leftover socket file from a dead process is removed; a socket with a
// live listener behind it yields ErrAddressInUse. When ctx is cancelled
// the bus stops itself, so a signal.NotifyContext context is enough to
// guarantee the socket file is removed on SIGTERM.
//
// Parameters:
//   - ctx: Lifetime of the listener
//
// Returns:
//   - error: ErrStopped, ErrAddressInUse, or a wrapped listen failure
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return fmt.Errorf("bus %s: already started", b.name)
	}

	if err := os.MkdirAll(b.opts.SocketRoot, rootPermissions); err != nil {
		return fmt.Errorf("creating socket root: %w", err)
	}
	if err := b.clearStaleSocket(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("unix", b.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", b.path, err)
	}
	if err := os.Chmod(b.path, socketPermissions); err != nil {
		b.log.Warn("could not set socket permissions", "path", b.path, "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.listener = ln
	b.cancel = cancel
	b.started = true
	b.unwatch = context.AfterFunc(ctx, b.Stop)

	b.wg.Add(2)
	go b.acceptLoop(runCtx, ln)
	go b.responderLoop(runCtx)

	b.log.Info("bus listening", "address", b.name, "path", b.path)
	return nil
}

// clearStaleSocket removes a socket file nobody is listening on.
func (b *Bus) clearStaleSocket(ctx context.Context) error {
	if _, err := os.Lstat(b.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var d net.Dialer
	if c, err := d.DialContext(dialCtx, "unix", b.path); err == nil {
		c.Close()
		return fmt.Errorf("%w: %s", ErrAddressInUse, b.path)
	}

	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", b.path, err)
	}
	b.log.Info("removed stale socket", "path", b.path)
	return nil
}

// Stop closes the listener, every accepted and dialed connection, waits
// for the background goroutines, and removes the socket file if Start
// created it. Safe to call more than once, concurrently, and on a bus
// that was never started.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)

	started := b.started
	ln := b.listener
	cancel := b.cancel
	unwatch := b.unwatch
	conns := make([]*serverConn, 0, len(b.accepted))
	for c := range b.accepted {
		conns = append(conns, c)
	}
	b.accepted = make(map[*serverConn]struct{})
	b.peers = make(map[string]*serverConn)
	b.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close() //nolint:errcheck // shutting down
	}
	for _, c := range conns {
		c.close()
	}
	b.closeDialed()

	b.wg.Wait()

	if started {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log.Warn("could not remove socket", "path", b.path, "error", err)
		}
		b.log.Info("bus stopped", "address", b.name)
	}
}

// Done is closed once Stop has been called.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Reply queues msg for delivery to the peer named by its source_id.
//
// msg must be a valid response; anything else is a programming error and
// fails with ErrSchema without being queued. Delivery is best effort: if
// no peer with that source_id is connected when the responder reaches the
// message, it is dropped.
func (b *Bus) Reply(ctx context.Context, msg schema.Message) error {
	if err := schema.Validate(schema.KindResponse, msg); err != nil {
		return err
	}

	b.mu.Lock()
	started, stopped := b.started, b.stopped
	b.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !started {
		return ErrNotStarted
	}

	select {
	case b.out <- msg.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrStopped
	}
}

// responderLoop drains the outbound queue in FIFO order.
func (b *Bus) responderLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.out:
			b.route(msg)
		}
	}
}

// route writes msg to the connection owned by its source_id.
func (b *Bus) route(msg schema.Message) {
	id := msg.SourceID()

	b.mu.Lock()
	c := b.peers[id]
	b.mu.Unlock()

	if c == nil {
		b.log.Debug("no peer for outbound message, dropped", "source_id", id)
		return
	}

	line, err := msg.Encode()
	if err != nil {
		b.log.Error("encoding outbound message", "source_id", id, "error", err)
		return
	}
	if err := c.writeLine(line); err != nil {
		b.log.Warn("write to peer failed, closing", "source_id", id, "error", err)
		b.drop(c)
	}
}
