package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
)

// Wire strings sent to TCP listeners.
const (
	greeting     = "Connected\r\n"
	rejectFull   = "501 Max Clients\r\n"
	lineEnding   = "\r\n"
	writeTimeout = 5 * time.Second
)

// TCPServer serves relayed messages to plain TCP listeners.
//
// A listener receives "Connected\r\n" and then one JSON object per line,
// each terminated by "\r\n". Nothing a listener sends is interpreted; the
// server reads only to notice when it goes away.
type TCPServer struct {
	hub    *Hub
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPServer creates a server feeding listeners from hub.
func NewTCPServer(hub *Hub, logger *logging.Logger) *TCPServer {
	return &TCPServer{hub: hub, logger: logger}
}

// Start listens on addr and accepts listeners until ctx is cancelled or
// Close is called.
func (s *TCPServer) Start(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	context.AfterFunc(ctx, func() { ln.Close() }) //nolint:errcheck // shutting down
	s.logger.Info("broadcast TCP server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and waits for the accept loop to exit. Connected
// listeners are closed when the hub is closed.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	s.wg.Wait()
	return err
}

func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		go s.serve(conn)
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	l, err := s.hub.Register(KindTCP, conn.RemoteAddr().String())
	if err != nil {
		if errors.Is(err, ErrMaxClients) {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // best effort
			io.WriteString(conn, rejectFull)                    //nolint:errcheck // closing anyway
		}
		conn.Close() //nolint:errcheck // rejected
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // write error caught below
	if _, err := io.WriteString(conn, greeting); err != nil {
		s.hub.Unregister(l)
		conn.Close() //nolint:errcheck // dead on arrival
		return
	}

	// Drain and ignore input; EOF or an error means the listener left.
	go func() {
		io.Copy(io.Discard, conn) //nolint:errcheck // any end means gone
		s.hub.Unregister(l)
	}()

	s.writePump(conn, l)
}

// writePump writes queued messages until the hub closes the queue or a
// write fails.
func (s *TCPServer) writePump(conn net.Conn, l *Listener) {
	defer conn.Close() //nolint:errcheck // listener is done

	for data := range l.Send() {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // write error caught below
		frame := make([]byte, 0, len(data)+len(lineEnding))
		frame = append(append(frame, data...), lineEnding...)
		if _, err := conn.Write(frame); err != nil {
			s.logger.Debug("write to listener failed", "id", l.ID, "error", err)
			s.hub.Unregister(l)
			return
		}
	}
}
