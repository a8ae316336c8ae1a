// Package websocket fans backend events out to every connected client over
// /ws/events.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vrsandeep/vidscribe/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is read-only and carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// closeCode is sent when the hub closes send; zero means a normal
	// closure. Set only by Run before closing send.
	closeCode int
}

// Hub maintains the set of active clients and broadcasts frames to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	once       sync.Once
	log        *slog.Logger

	mu    sync.RWMutex
	count int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		log:        logger.With("component", "hub"),
	}
}

// Run owns the client set until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// A client that cannot keep up is dropped; it
					// resyncs from a snapshot when it reconnects.
					h.log.Warn("dropping slow websocket client")
					h.drop(client, websocket.CloseTryAgainLater)
				}
			}
			h.setCount(len(h.clients))
		case <-h.quit:
			for client := range h.clients {
				h.drop(client, websocket.CloseGoingAway)
			}
			h.setCount(0)
			return
		}
	}
}

// drop removes a client the hub gives up on. The code tells the peer the
// close was not a normal one, so it reconnects.
func (h *Hub) drop(client *Client, code int) {
	client.closeCode = code
	close(client.send)
	delete(h.clients, client)
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast queues a raw frame for every client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.quit:
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal broadcast", "error", err)
		return
	}
	h.Broadcast(b)
}

// BroadcastEvent encodes p as an event frame and broadcasts it.
func (h *Hub) BroadcastEvent(p events.Payload) {
	b, err := events.Encode(p)
	if err != nil {
		h.log.Error("encode event", "kind", p.Kind(), "error", err)
		return
	}
	h.Broadcast(b)
}

// ServeWs upgrades the request and registers the connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes client frames. Clients only send heartbeats, which are
// decoded and otherwise ignored.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debug("websocket client closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		evt, err := events.Decode(message)
		if err != nil {
			c.hub.log.Debug("ignoring client frame", "error", err)
			continue
		}
		if evt.Kind != events.KindHeartbeat {
			c.hub.log.Debug("ignoring client event", "kind", evt.Kind)
		}
	}
}

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
				code := c.closeCode
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
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
