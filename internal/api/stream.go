package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub manages websocket clients and broadcasts events to them, filtering
// each event to only the clients subscribed to its symbol. This mirror
// tracks many symbols at once, unlike a single-bot dashboard where every
// event is relevant to every client — so topic filtering happens here
// rather than pushing every client's firehose down the same pipe.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	mu         sync.RWMutex
	logger     *slog.Logger
}

// Client represents a connected websocket client, optionally scoped to a
// subset of symbols.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]struct{} // nil/empty: every symbol
}

// wants reports whether evt should be delivered to c. An event with no
// symbol (none currently exist, but the wrapper type allows it) always
// reaches every client, matching health/control-plane semantics rather
// than per-book ones.
func (c *Client) wants(symbol string) bool {
	if len(c.symbols) == 0 || symbol == "" {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

// NewHub creates a new websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run starts the hub's main loop (call in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "count", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "count", len(h.clients))

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("failed to marshal event", "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(evt.Symbol) {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent sends an event to every connected client subscribed to
// its symbol.
func (h *Hub) BroadcastEvent(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", evt.Type, "symbol", evt.Symbol)
	}
}

// BroadcastSnapshot sends a full book snapshot to all connected clients.
func (h *Hub) BroadcastSnapshot(snap BookSnapshotDTO) {
	h.BroadcastEvent(NewSnapshotEvent(snap))
}

// BroadcastBookUpdate sends a top-of-book delta to all connected clients.
func (h *Hub) BroadcastBookUpdate(symbol string, upd BookUpdateEvent) {
	h.BroadcastEvent(NewBookUpdateEvent(symbol, upd))
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// writePump pumps messages from the hub to the websocket connection.
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

// readPump pumps messages from the websocket connection to the hub. The
// stream is read-only; any client message is discarded after the deadline
// reset it triggers.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
	}
}

// NewClient creates a new websocket client scoped to symbols (nil or empty
// subscribes to every symbol) and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, symbols []string) *Client {
	var set map[string]struct{}
	if len(symbols) > 0 {
		set = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			set[s] = struct{}{}
		}
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		symbols: set,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
