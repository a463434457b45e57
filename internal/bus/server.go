package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/queeriouslabs/secbot/internal/schema"
)

// serverConn is one accepted connection.
type serverConn struct {
	nc net.Conn

	// id is the source_id the peer announced; guarded by Bus.mu.
	id string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *serverConn) writeLine(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.nc.Write(line)
	return err
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		c.nc.Close() //nolint:errcheck // nothing to do with a close error
	})
}

func (b *Bus) acceptLoop(ctx context.Context, ln net.Listener) {
	defer b.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			b.log.Error("accept failed", "error", err)
			continue
		}

		c := &serverConn{nc: nc}

		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			c.close()
			return
		}
		b.accepted[c] = struct{}{}
		b.wg.Add(1)
		b.mu.Unlock()

		go b.serve(ctx, c)
	}
}

// serve reads lines from one peer until EOF, an error, or shutdown.
//
// Each line is decoded, checked, recorded against its source_id and
// queued before the next line is read, so per-connection order is kept
// and a full inbound queue stalls only this peer.
func (b *Bus) serve(ctx context.Context, c *serverConn) {
	defer b.wg.Done()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 4096), b.opts.MaxLineSize)

	for scanner.Scan() {
		msg, err := b.accept(scanner.Bytes())
		if err != nil {
			b.log.Warn("rejecting peer", "peer", b.peerID(c), "error", err)
			b.drop(c)
			return
		}

		if !b.register(c, msg.SourceID()) {
			return
		}

		select {
		case b.in <- msg:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() == nil {
			b.log.Warn("peer read failed", "peer", b.peerID(c), "error", err)
		}
		b.drop(c)
		return
	}

	// EOF: the peer closed its write side. Keep a registered connection so
	// a reply still queued for it can go out; it is closed when superseded,
	// on a failed write, or by Stop.
	if b.peerID(c) == "" {
		b.drop(c)
	}
}

// accept decodes and checks one inbound line.
func (b *Bus) accept(line []byte) (schema.Message, error) {
	msg, err := schema.Decode(line)
	if err != nil {
		return nil, err
	}
	if b.opts.AcceptAny {
		if msg.SourceID() == "" {
			return nil, fmt.Errorf("%w: message names no sender", ErrSchema)
		}
		return msg, nil
	}
	if err := schema.Validate(schema.KindRequest, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// register records c as the owner of id. An older connection that
// announced the same id is closed. Returns false if the bus is stopping.
func (b *Bus) register(c *serverConn, id string) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}

	var superseded *serverConn
	if old, ok := b.peers[id]; ok && old != c {
		superseded = old
		delete(b.accepted, old)
	}
	if c.id != "" && c.id != id && b.peers[c.id] == c {
		delete(b.peers, c.id)
	}
	c.id = id
	b.peers[id] = c
	b.mu.Unlock()

	if superseded != nil {
		b.log.Info("peer reconnected, closing previous connection", "peer", id)
		superseded.close()
	}
	return true
}

// drop closes c and forgets it, unless a newer connection already owns
// its id.
func (b *Bus) drop(c *serverConn) {
	b.mu.Lock()
	if c.id != "" && b.peers[c.id] == c {
		delete(b.peers, c.id)
	}
	delete(b.accepted, c)
	b.mu.Unlock()

	c.close()
}

func (b *Bus) peerID(c *serverConn) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.id
}

// Peers returns the source_ids that currently own a connection.
func (b *Bus) Peers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.peers))
	for id := range b.peers {
		ids = append(ids, id)
	}
	return ids
}
