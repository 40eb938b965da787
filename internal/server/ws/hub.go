// Package ws bridges the Redis signal bus to WebSocket subscribers. Every
// strategy event published on the update channel is fanned out to connected
// clients, optionally filtered to the strategy ids a client asked for.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control frames.
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing message buffer.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front.
		return true
	},
}

// client is a single WebSocket connection. An empty filter set means the
// client receives events for every strategy.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter map[string]bool
}

// subscribeMsg is the control frame a client sends to narrow or widen its
// strategy filter: {"subscribe":["<id>"]} / {"unsubscribe":["<id>"]}.
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub manages connected WebSocket clients and forwards strategy events from
// the signal bus to each of them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a hub bridging the given signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
	}
}

// Run drives the hub event loop: registration, unregistration, and
// broadcast. It subscribes to the update channel and exits when ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeUpdates(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case data := <-h.broadcast:
			strategyID := eventStrategyID(data)
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(strategyID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow client; drop rather than stall the loop.
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeUpdates pumps the signal bus subscription into the broadcast
// channel.
func (h *Hub) subscribeUpdates(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.UpdateChannel)
	if err != nil {
		h.logger.Error("subscribe to update channel failed", slog.String("error", err.Error()))
		return
	}
	h.logger.Info("subscribed to update channel", slog.String("channel", domain.UpdateChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("update channel subscription closed")
				return
			}
			h.broadcast <- data
		}
	}
}

// HandleWS upgrades the request to a WebSocket connection and registers the
// client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: make(map[string]bool),
	}

	h.register <- c
	c.sendWelcome()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventStrategyID pulls the strategy id out of a serialized event so the
// hub can apply per-client filters without re-marshalling.
func eventStrategyID(data []byte) string {
	var probe struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.StrategyID
}

// wants reports whether the client should receive events for the strategy.
func (c *client) wants(strategyID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	return c.filter[strategyID]
}

// sendWelcome pushes a connection acknowledgement with the server start
// time so clients can detect restarts.
func (c *client) sendWelcome() {
	payload, err := json.Marshal(map[string]any{
		"type":       "connected",
		"channel":    domain.UpdateChannel,
		"started_at": c.hub.startedAt.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump consumes control frames from the client and keeps the read
// deadline alive via pong handling.
func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil &&
			(len(sub.Subscribe) > 0 || len(sub.Unsubscribe) > 0) {
			c.updateFilter(sub)
		}
	}
}

func (c *client) updateFilter(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range msg.Subscribe {
		c.filter[id] = true
	}
	for _, id := range msg.Unsubscribe {
		delete(c.filter, id)
	}
}

// writePump drains the send channel onto the connection and keeps the
// client alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
