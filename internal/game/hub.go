package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	WRITE_WAIT       = 10 * time.Second
	PING_PERIOD      = 30 * time.Second
	SEND_BUFFER      = 64
	BROADCAST_BUFFER = 256

	displacedReason = "New connection from another device"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live connection of an authenticated user.
type Client struct {
	id       string
	identity Identity
	conn     Conn
	send     chan []byte
	done     chan struct{}
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Client) ID() string         { return c.id }
func (c *Client) Identity() Identity { return c.identity }

// Done is closed once the write pump has stopped touching the connection.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues an event for this client only. It never blocks; a full or
// closed queue drops the event.
func (c *Client) Send(e Event) bool {
	data, err := Encode(e)
	if err != nil {
		c.logger.Error("encode failed", "error", err)
		return false
	}
	return c.SendRaw(data)
}

// SendRaw queues an already encoded frame.
func (c *Client) SendRaw(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send queue full, dropping message")
		return false
	}
}

// close ends the write pump after it drains what is already queued.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PING_PERIOD)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// Hub keeps exactly one live connection per user and fans events out to all
// of them. The Run loop is the only writer of the registry.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan Event, BROADCAST_BUFFER),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// NewClient wraps an authenticated connection; pass it to Register.
func (h *Hub) NewClient(conn Conn, who Identity) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		identity: who,
		conn:     conn,
		send:     make(chan []byte, SEND_BUFFER),
		done:     make(chan struct{}),
		logger:   h.logger.With("clientID", id, "userID", who.UserID),
	}
}

// Run processes registrations and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c)

		case e := <-h.broadcast:
			data, err := Encode(e)
			if err != nil {
				h.logger.Error("encode failed", "error", err)
				continue
			}
			h.fanOut(data)

		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.mu.Lock()
			for userID, c := range h.clients {
				c.close()
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	old, exists := h.clients[c.identity.UserID]
	if exists && old == c {
		h.mu.Unlock()
		return
	}
	h.clients[c.identity.UserID] = c
	total := len(h.clients)
	h.mu.Unlock()

	if exists {
		h.logger.Info("user already connected, displacing old session",
			"userID", c.identity.UserID, "oldClientID", old.id, "newClientID", c.id)
		old.Send(Displaced{Reason: displacedReason})
		old.close()
	}
	go c.writePump()
	h.logger.Info("client connected", "userID", c.identity.UserID, "clientID", c.id, "total", total)
	h.announceCount(total)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.identity.UserID]
	if !ok || current != c {
		h.mu.Unlock()
		c.close()
		h.logger.Info("stale connection closed, already replaced", "userID", c.identity.UserID, "clientID", c.id)
		return
	}
	delete(h.clients, c.identity.UserID)
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Info("client disconnected", "userID", c.identity.UserID, "clientID", c.id, "total", total)
	h.announceCount(total)
}

func (h *Hub) announceCount(total int) {
	data, err := Encode(ConnectionCount{Count: total, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error("encode failed", "error", err)
		return
	}
	h.fanOut(data)
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.SendRaw(data)
	}
}

// Register installs c as its user's only connection, displacing any older one.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		c.close()
		return false
	}
}

// Unregister removes c if it is still its user's registered connection.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// Broadcast queues e for every client without blocking.
func (h *Hub) Broadcast(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// GetClientCount is the number of registered users.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connected reports whether c is the registered connection of its user.
func (h *Hub) Connected(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c.identity.UserID] == c
}
