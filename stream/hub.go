// Package stream broadcasts simulation stats to websocket clients.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/flux/telemetry"
)

const writeTimeout = 2 * time.Second

// Message is the envelope sent to clients.
type Message struct {
	Type  string                 `json:"type"`
	Stats *telemetry.WindowStats `json:"stats,omitempty"`
}

// Command is a client request. Only the fields that are set apply.
type Command struct {
	Regenerate *int `json:"regenerate,omitempty"` // Noise channel to regenerate
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
	last    *Message

	commands chan Command
}

// NewHub creates a hub that buffers up to queue pending client commands.
func NewHub(queue int) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		commands: make(chan Command, queue),
	}
}

// Commands delivers client commands. The simulation drains it between ticks.
func (h *Hub) Commands() <-chan Command { return h.commands }

// ServeHTTP upgrades the connection, sends the latest stats and reads
// commands until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	connMutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = connMutex
	last := h.last
	h.mu.Unlock()
	defer h.remove(conn)

	if last != nil {
		if err := h.send(conn, connMutex, last); err != nil {
			return
		}
	}

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "err", err)
			}
			return
		}
		select {
		case h.commands <- cmd:
		default:
			slog.Warn("dropping stream command, queue full")
		}
	}
}

// BroadcastStats sends a window's stats to every client.
func (h *Hub) BroadcastStats(stats telemetry.WindowStats) {
	h.Broadcast(&Message{Type: "stats", Stats: &stats})
}

// Broadcast sends msg to every client and drops the ones that fail. Writes
// happen outside the client lock, so a slow client delays the call by at
// most writeTimeout and never blocks new connections.
func (h *Hub) Broadcast(msg *Message) {
	type client struct {
		conn      *websocket.Conn
		connMutex *sync.Mutex
	}

	h.mu.Lock()
	h.last = msg
	clients := make([]client, 0, len(h.clients))
	for conn, connMutex := range h.clients {
		clients = append(clients, client{conn, connMutex})
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.send(c.conn, c.connMutex, msg); err != nil {
				h.remove(c.conn)
				c.conn.Close()
			}
		}()
	}
	wg.Wait()
}

func (h *Hub) send(conn *websocket.Conn, connMutex *sync.Mutex, msg *Message) error {
	connMutex.Lock()
	defer connMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ListenAndServe serves the hub at path on addr until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("stats stream listening", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
