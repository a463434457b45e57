package bus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/queeriouslabs/secbot/internal/schema"
)

// clientConn is a connection this bus dialed to another endpoint.
// mu serializes exchanges so one Request's reply is never read by another.
type clientConn struct {
	address string
	nc      net.Conn
	r       *bufio.Reader

	mu sync.Mutex
}

// Connect dials address, or does nothing if a connection to it is
// already open.
//
// Returns:
//   - error: ErrConnection if no endpoint is listening on address
func (b *Bus) Connect(ctx context.Context, address string) error {
	_, err := b.dial(ctx, address)
	return err
}

// Disconnect closes and forgets the connection to address. It is a no-op
// when there is none.
func (b *Bus) Disconnect(address string) {
	b.dialMu.Lock()
	cc := b.dialed[address]
	delete(b.dialed, address)
	b.dialMu.Unlock()

	if cc != nil {
		cc.nc.Close() //nolint:errcheck // caller asked to forget it
	}
}

func (b *Bus) dial(ctx context.Context, address string) (*clientConn, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	select {
	case <-b.done:
		return nil, ErrStopped
	default:
	}

	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	if cc, ok := b.dialed[address]; ok {
		return cc, nil
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", SocketPath(b.opts.SocketRoot, address))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	cc := &clientConn{
		address: address,
		nc:      nc,
		r:       bufio.NewReader(nc),
	}
	b.dialed[address] = cc
	b.log.Debug("connected to peer", "address", address)
	return cc, nil
}

// forget closes cc and removes it from the dialed table if it is still
// the current connection for its address. The next call dials afresh.
func (b *Bus) forget(cc *clientConn) {
	b.dialMu.Lock()
	if b.dialed[cc.address] == cc {
		delete(b.dialed, cc.address)
	}
	b.dialMu.Unlock()

	cc.nc.Close() //nolint:errcheck // connection is unusable either way
}

func (b *Bus) closeDialed() {
	b.dialMu.Lock()
	conns := b.dialed
	b.dialed = make(map[string]*clientConn)
	b.dialMu.Unlock()

	for _, cc := range conns {
		cc.nc.Close() //nolint:errcheck // shutting down
	}
}

// Request sends msg to address and waits for exactly one line back.
//
// msg is validated as a request before anything is written; an invalid
// message fails with ErrSchema and no I/O. The call is bounded by ctx and
// by Options.RequestTimeout.
//
// If the peer closes the connection without replying, Request returns an
// empty Message and a nil error. Callers must treat an empty result as a
// failure, not as a response.
//
// Parameters:
//   - ctx: Cancellation and deadline for the whole exchange
//   - address: Endpoint address of the peer (e.g. "authorizer")
//   - msg: The request
//
// Returns:
//   - schema.Message: The peer's response, or an empty Message
//   - error: ErrConnection, ErrTimeout, ErrDecode, ErrSchema or ctx.Err()
func (b *Bus) Request(ctx context.Context, address string, msg schema.Message) (schema.Message, error) {
	if err := schema.Validate(schema.KindRequest, msg); err != nil {
		return nil, err
	}
	line, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	cc, err := b.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if b.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.RequestTimeout)
		defer cancel()
	}
	stop := bindDeadline(ctx, cc.nc)
	defer stop()

	if _, err := cc.nc.Write(line); err != nil {
		b.forget(cc)
		return nil, b.exchangeError(ctx, address, "writing request", err)
	}

	reply, err := readLine(cc.r, b.opts.MaxLineSize)
	if err != nil {
		b.forget(cc)
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
			b.log.Debug("peer closed without reply", "address", address)
			return schema.Message{}, nil
		}
		return nil, b.exchangeError(ctx, address, "reading response", err)
	}

	resp, err := schema.Decode(reply)
	if err != nil {
		b.forget(cc)
		return nil, err
	}
	if err := schema.Validate(schema.KindResponse, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Notify writes msg to address without waiting for a reply. It is used
// for status events, which carry src_id rather than source_id and are not
// validated as requests.
func (b *Bus) Notify(ctx context.Context, address string, msg schema.Message) error {
	if msg.SourceID() == "" {
		return fmt.Errorf("%w: message names no sender", ErrSchema)
	}
	line, err := msg.Encode()
	if err != nil {
		return err
	}

	cc, err := b.dial(ctx, address)
	if err != nil {
		return err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	stop := bindDeadline(writeCtx, cc.nc)
	defer stop()

	if _, err := cc.nc.Write(line); err != nil {
		b.forget(cc)
		return b.exchangeError(writeCtx, address, "writing notification", err)
	}
	return nil
}

// bindDeadline applies ctx's deadline to nc and interrupts blocked I/O
// when ctx is cancelled. The returned func clears both.
func bindDeadline(ctx context.Context, nc net.Conn) func() {
	deadline, _ := ctx.Deadline()
	nc.SetDeadline(deadline) //nolint:errcheck // a failing conn surfaces on I/O

	stopAfter := context.AfterFunc(ctx, func() {
		nc.SetDeadline(time.Unix(1, 0)) //nolint:errcheck // best effort interrupt
	})
	return func() {
		stopAfter()
		nc.SetDeadline(time.Time{}) //nolint:errcheck // see above
	}
}

// exchangeError maps an I/O failure to the bus's error vocabulary.
func (b *Bus) exchangeError(ctx context.Context, address, op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if cerr := context.Cause(ctx); cerr != nil && !errors.Is(cerr, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", op, address, cerr)
		}
		return fmt.Errorf("%w: %s %s", ErrTimeout, op, address)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnection, op, address, err)
}

// readLine reads one "\n"-terminated line of at most limit bytes.
// A partial line followed by EOF is reported as io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > limit {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrDecode, limit)
		}
		switch {
		case err == nil:
			return buf.Bytes(), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}
