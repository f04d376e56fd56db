package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holderwatch/holderwatch/internal/alerts"
	"github.com/holderwatch/holderwatch/internal/engine"
	"github.com/holderwatch/holderwatch/internal/telemetry"
	"github.com/holderwatch/holderwatch/pkg/types"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "update"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string  `json:"event"`
	Data  Payload `json:"data"`
}

// Payload carries the dashboard state. Outcome and Alerts are only set on
// update events.
type Payload struct {
	Stats   types.Stats    `json:"stats"`
	Status  engine.Status  `json:"status"`
	Latest  *types.Sample  `json:"latest,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Alerts  []alerts.Alert `json:"alerts,omitempty"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics reports the connected client count.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub manages WebSocket client connections. It pushes an update event after
// every engine cycle and a snapshot event every interval.
type Hub struct {
	view     engine.View
	interval time.Duration
	metrics  *telemetry.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from v and broadcasts every interval.
func New(v engine.View, interval time.Duration, opts ...Option) *Hub {
	h := &Hub{
		view:     v,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run subscribes to engine updates and starts the broadcast ticker. It
// blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	unsubscribe := h.view.Subscribe(h.onUpdate)
	defer unsubscribe()

	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if data, err := h.snapshotMessage(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends a snapshot immediately on connect, then receives broadcasts until
// the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if data, err := h.snapshotMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// onUpdate runs on the engine's pipeline goroutine; broadcast never blocks.
func (h *Hub) onUpdate(u engine.Update) {
	data, err := json.Marshal(Message{
		Event: EventUpdate,
		Data: Payload{
			Stats:   u.Stats,
			Status:  u.Status,
			Latest:  u.Sample,
			Outcome: u.Outcome,
			Alerts:  u.Alerts,
		},
	})
	if err != nil {
		slog.Warn("ws: encode update", "err", err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	p := Payload{
		Stats:  h.view.Aggregate(),
		Status: h.view.Status(),
	}
	if snap := h.view.Snapshot(); len(snap) > 0 {
		last := snap[len(snap)-1]
		p.Latest = &last
	}
	return json.Marshal(Message{Event: EventSnapshot, Data: p})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
}

// broadcast queues data for every client. Sends happen under the read lock
// so a concurrent unregister cannot close a channel mid-send.
func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// Outgoing buffer full: disconnect.
	for _, c := range slow {
		slog.Debug("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.SetWSClients(0)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages and detect disconnects.
// Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
