// Package realtime keeps the live websocket sessions that operator replies are pushed to.
package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
	sendBuffer     = 32
)

// EventSession is pushed once on connect with the assigned session id.
const EventSession = "session"

// SessionHooks observes session lifecycle.
type SessionHooks interface {
	Connect(sessionID string)
	Disconnect(sessionID string)
}

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Envelope
}

// Hub maps session ids to websocket connections.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	hooks    SessionHooks
	upgrader websocket.Upgrader
	newID    func() string
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(hooks SessionHooks, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients: make(map[string]*client),
		hooks:   hooks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		newID: uuid.NewString,
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{id: h.newID(), conn: conn, send: make(chan Envelope, sendBuffer)}
	c.send <- Envelope{Event: EventSession, Payload: map[string]string{"session_id": c.id}}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// Push queues an event for sessionID. Unknown sessions and full buffers drop the event.
func (h *Hub) Push(sessionID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	if !ok {
		return
	}
	select {
	case c.send <- Envelope{Event: event, Payload: payload}:
	default:
		slog.Warn("websocket send buffer full, dropping event",
			slog.String("session_id", sessionID),
			slog.String("event", event))
	}
}

// Connected reports whether sessionID has a live connection.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	if h.hooks != nil {
		h.hooks.Connect(c.id)
	}
	observability.LiveSessions.Set(float64(n))
	slog.Info("websocket session connected", slog.String("session_id", c.id), slog.Int("sessions", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	if h.hooks != nil {
		h.hooks.Disconnect(c.id)
	}
	observability.LiveSessions.Set(float64(n))
	slog.Info("websocket session disconnected", slog.String("session_id", c.id), slog.Int("sessions", n))
}

// readPump discards client frames and returns when the connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", slog.String("session_id", c.id), slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("websocket write error", slog.String("session_id", c.id), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
