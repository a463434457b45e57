package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// sendBufferSize is the per-listener queue. A listener that falls this
// far behind is dropped.
const sendBufferSize = 64

// Listener kinds.
const (
	KindTCP       = "tcp"
	KindWebSocket = "websocket"
)

// Listener is one external client receiving relayed messages.
//
// The hub only ever queues encoded JSON on Send; the transport that owns
// the listener frames and writes it. Send is closed when the hub drops
// the listener.
type Listener struct {
	ID   string
	Kind string
	Addr string

	send chan []byte
}

// Send returns the listener's outbound queue.
func (l *Listener) Send() <-chan []byte { return l.send }

// Hub tracks external listeners and fans every message out to all of them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Broadcast never blocks on a listener.
type Hub struct {
	maxClients int
	logger     *logging.Logger

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool
}

// NewHub creates a hub admitting at most maxClients listeners.
func NewHub(maxClients int, logger *logging.Logger) *Hub {
	return &Hub{
		maxClients: maxClients,
		logger:     logger,
		listeners:  make(map[*Listener]struct{}),
	}
}

// Register admits a new listener.
//
// Parameters:
//   - kind: KindTCP or KindWebSocket
//   - addr: Remote address, for logs
//
// Returns:
//   - *Listener: The admitted listener
//   - error: ErrMaxClients when full, ErrHubClosed after Close
func (h *Hub) Register(kind, addr string) (*Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.listeners) >= h.maxClients {
		h.logger.Warn("max clients reached, rejecting", "kind", kind, "remote", addr)
		return nil, ErrMaxClients
	}

	l := &Listener{
		ID:   uuid.NewString(),
		Kind: kind,
		Addr: addr,
		send: make(chan []byte, sendBufferSize),
	}
	h.listeners[l] = struct{}{}
	h.logger.Info("listener connected", "id", l.ID, "kind", kind, "remote", addr, "listeners", len(h.listeners))
	return l, nil
}

// Unregister removes l and closes its queue. Only the call that actually
// removes it closes the channel, so concurrent drops are safe.
func (h *Hub) Unregister(l *Listener) {
	h.mu.Lock()
	_, existed := h.listeners[l]
	delete(h.listeners, l)
	n := len(h.listeners)
	h.mu.Unlock()

	if existed {
		close(l.send)
		h.logger.Info("listener disconnected", "id", l.ID, "kind", l.Kind, "listeners", n)
	}
}

// Broadcast queues msg, encoded once as compact JSON, for every listener.
// A listener whose queue is full is dropped.
func (h *Hub) Broadcast(msg schema.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	var slow []*Listener
	for l := range h.listeners {
		select {
		case l.send <- data:
		default:
			slow = append(slow, l)
		}
	}
	h.mu.RUnlock()

	for _, l := range slow {
		h.logger.Warn("listener too slow, dropping", "id", l.ID, "kind", l.Kind)
		h.Unregister(l)
	}
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close drops every listener and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	listeners := h.listeners
	h.listeners = make(map[*Listener]struct{})
	h.mu.Unlock()

	for l := range listeners {
		close(l.send)
	}
}
