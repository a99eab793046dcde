package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jinjin-jara/violin-fingering/core/pipeline"
	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Event types sent to WebSocket clients.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventJobQueued    = "job_queued"
	EventJobCancelled = "job_cancelled"
)

// RunEvent is one message on the run event stream.
type RunEvent struct {
	Type      string          `json:"type"`
	RunID     string          `json:"runId,omitempty"`
	JobID     string          `json:"jobId,omitempty"`
	Document  string          `json:"document,omitempty"`
	Digest    string          `json:"digest,omitempty"`
	Cached    bool            `json:"cached,omitempty"`
	Category  string          `json:"category,omitempty"`
	Message   string          `json:"message,omitempty"`
	Stats     *pipeline.Stats `json:"stats,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// resultEvent describes a finished run.
func resultEvent(res pipeline.Result, document string, cached bool) RunEvent {
	evt := RunEvent{
		Type:     EventRunCompleted,
		RunID:    res.RunID,
		Document: document,
		Digest:   res.Digest.BLAKE3,
		Cached:   cached,
	}
	if res.Success {
		stats := res.Stats
		evt.Stats = &stats
	} else {
		evt.Type = EventRunFailed
		evt.Category = res.Category
		evt.Message = res.Error
	}
	return evt
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active WebSocket connections and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	now        func() time.Time
}

// NewHub creates a new WebSocket hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run handles client registration and broadcasting until ctx is cancelled,
// then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent("client_connected", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent("client_disconnected", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than block the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every connected client. It never blocks;
// events are dropped when the queue is full.
func (h *Hub) Broadcast(evt RunEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp == "" {
		evt.Timestamp = h.now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		logging.Error("failed to marshal run event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logging.Warn("broadcast channel full, dropping event", "type", evt.Type)
	}
}

// readPump drains client messages; the stream is one-way, so reads only
// keep the connection alive and detect closure.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("websocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump writes events, one per text message, and pings idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades GET /ws and registers the client with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			if origin == "" {
				return true
			}
			if !isOriginAllowed(origin, s.cfg.AllowedOrigins) {
				logging.SecurityEvent("websocket_origin_rejected", "websocket", "origin", origin)
				return false
			}
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
