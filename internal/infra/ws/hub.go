package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

var _ adapter.Notifier = (*Hub)(nil)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Hub keeps one logical channel per user. Every joined client of a user
// receives the same frames; a client whose buffer is full misses frames
// instead of slowing the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	total   int

	upgrader     websocket.Upgrader
	pingInterval time.Duration
	sendBuffer   int
	log          *zerolog.Logger
}

func NewHub(cfg config.WSConfig, allowedOrigins []string, log *zerolog.Logger) *Hub {
	h := &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		pingInterval: cfg.PingInterval,
		sendBuffer:   cfg.SendBuffer,
		log:          logging.Component(log, "ws_hub"),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 64
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Client is one live connection of a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	once   sync.Once
}

func (h *Hub) newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{hub: h, conn: conn, userID: userID, send: make(chan []byte, h.sendBuffer)}
}

// Join adds c to its user's channel.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.total++
	}
	total := h.total
	h.mu.Unlock()
	metrics.SetWSClients(total)
}

// Leave removes c and closes its send buffer. Calling it twice is harmless.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			h.total--
			if len(set) == 0 {
				delete(h.clients, c.userID)
			}
		}
	}
	total := h.total
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
	metrics.SetWSClients(total)
}

// ClientCount reports how many clients userID has joined on this instance.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) Notify(_ context.Context, n model.Notification) {
	frame, err := json.Marshal(n)
	if err != nil {
		metrics.IncNotification(string(n.Type), "encode_error")
		h.log.Error().Err(err).Str("type", string(n.Type)).Msg("encode notification")
		return
	}
	h.deliver(n.UserID, string(n.Type), frame)
}

// Deliver sends an already encoded frame, as received from the relay.
func (h *Hub) Deliver(userID string, frame []byte) {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(frame, &head)
	h.deliver(userID, head.Type, frame)
}

func (h *Hub) deliver(userID, kind string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.clients[userID]
	if len(set) == 0 {
		metrics.IncNotification(kind, "no_clients")
		return
	}
	for c := range set {
		select {
		case c.send <- frame:
			metrics.IncNotification(kind, "delivered")
		default:
			metrics.IncNotification(kind, "dropped")
			h.log.Warn().Str("user_id", userID).Str("type", kind).Msg("client buffer full, frame dropped")
		}
	}
}

// ServeWS upgrades the request and joins the connection to userID's channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := h.newClient(conn, userID)
	h.Join(c)
	h.log.Debug().Str("user_id", userID).Msg("client joined")

	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames; clients never send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	pongWait := c.hub.pingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
