package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
)

// WebSocket timings.
const (
	pingInterval = 30 * time.Second
	pongWait     = 10 * time.Second

	// maxInboundSize bounds frames read from a listener; they are discarded.
	maxInboundSize = 512

	gracefulShutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Listeners are read-only; any origin may watch.
		return true
	},
}

// HTTPServer serves WebSocket listeners and a health endpoint.
type HTTPServer struct {
	hub    *Hub
	logger *logging.Logger
	wsPath string
	health func() map[string]any

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates the HTTP side of the broadcast service.
//
// Parameters:
//   - hub: Listener registry shared with the TCP server
//   - wsPath: Route for WebSocket upgrades (e.g. "/ws")
//   - health: Extra fields reported by /healthz; may be nil
//   - logger: Request and connection logging
func NewHTTPServer(hub *Hub, wsPath string, health func() map[string]any, logger *logging.Logger) *HTTPServer {
	if wsPath == "" {
		wsPath = "/ws"
	}
	return &HTTPServer{hub: hub, logger: logger, wsPath: wsPath, health: health}
}

// Router builds the chi router.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Get(s.wsPath, s.handleWebSocket)
	return r
}

// Start listens on addr and serves in the background.
func (s *HTTPServer) Start(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("broadcast HTTP server error", "error", err)
		}
	}()

	s.logger.Info("broadcast HTTP server listening", "address", ln.Addr().String(), "websocket", s.wsPath)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down. Hijacked WebSocket connections are closed
// by the hub.
func (s *HTTPServer) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down broadcast HTTP server: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"listeners": s.hub.Count(),
	}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body) //nolint:errcheck // client gone
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	l, err := s.hub.Register(KindWebSocket, r.RemoteAddr)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)) //nolint:errcheck // closing anyway
		conn.Close()                                                                 //nolint:errcheck // rejected
		return
	}

	go s.readPump(conn, l)
	go s.writePump(conn, l)
}

// readPump discards listener input and keeps the read deadline moving on
// pongs. It ends, dropping the listener, when the connection does.
func (s *HTTPServer) readPump(conn *websocket.Conn, l *Listener) {
	defer s.hub.Unregister(l)

	conn.SetReadLimit(maxInboundSize)
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait)) //nolint:errcheck // best effort
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "id", l.ID, "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages as text frames, plus periodic pings.
func (s *HTTPServer) writePump(conn *websocket.Conn, l *Listener) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close() //nolint:errcheck // listener is done
	}()

	for {
		select {
		case data, ok := <-l.Send():
			if !ok {
				conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // write error caught below
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.hub.Unregister(l)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // ping error caught below
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(l)
				return
			}
		}
	}
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *HTTPServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
