package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/ws"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Enqueuer accepts messages for background processing
type Enqueuer interface {
	Enqueue(msg models.IncomingMessage) error
}

// Client is one subscriber connection
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Filter ws.Filter
	hub    *Hub
}

// Hub fans processed results out to subscribers
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log.With("component", "ws"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("Client registered", "client_id", c.ID, "sender_id", c.Filter.SenderID, "listing_id", c.Filter.ListingID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.Send)
		h.log.Info("Client unregistered", "client_id", c.ID)
	}
	h.mu.Unlock()
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends res to every matching subscriber; slow subscribers miss the frame
func (h *Hub) Publish(_ context.Context, res models.ProcessedMessage) {
	frame, err := ws.NewFrame(ws.TypeResult, res)
	if err != nil {
		h.log.LogError(err, "Failed to encode result", "message_id", res.Original.ID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.Filter.Matches(res.Original.SenderID, res.Original.ListingID) {
			continue
		}
		select {
		case c.Send <- frame:
		default:
			h.log.Warn("Subscriber too slow, result dropped", "client_id", c.ID, "message_id", res.Original.ID)
		}
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
}

// Handler upgrades HTTP requests into result subscriptions
type Handler struct {
	hub      *Hub
	queue    Enqueuer
	upgrader websocket.Upgrader
}

// NewHandler creates a handler; inbound messages go to queue, which may be nil for a read-only stream
func NewHandler(hub *Hub, queue Enqueuer, allowedOrigins []string) *Handler {
	return &Handler{
		hub:   hub,
		queue: queue,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// RegisterRoutesV1 registers the stream route under /api/v1
func (h *Handler) RegisterRoutesV1(v1 *gin.RouterGroup) {
	v1.GET("/stream", h.Serve)
}

// Serve upgrades the connection; sender_id and listing_id query parameters narrow the feed
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.LogError(err, "Error upgrading connection")
		return
	}

	id := c.Query("client_id")
	if id == "" {
		id = uuid.NewString()
	}
	client := &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		Filter: ws.Filter{
			SenderID:  c.Query("sender_id"),
			ListingID: c.Query("listing_id"),
		},
		hub: h.hub,
	}
	h.hub.register(client)

	go client.writePump()
	go client.readPump(h.queue)
}

func (c *Client) readPump(queue Enqueuer) {
	defer func() {
		c.hub.unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("Connection closed unexpectedly", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var frame ws.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(ws.TypeError, map[string]string{"message": "malformed frame"})
			continue
		}
		c.handle(frame, queue)
	}
}

func (c *Client) handle(frame ws.Frame, queue Enqueuer) {
	switch frame.Type {
	case ws.TypePing:
		c.reply(ws.TypePong, nil)
	case ws.TypeMessage:
		if queue == nil {
			c.reply(ws.TypeError, map[string]string{"message": "stream is read-only"})
			return
		}
		var msg models.IncomingMessage
		if err := json.Unmarshal(frame.Content, &msg); err != nil {
			c.reply(ws.TypeError, map[string]string{"message": "malformed message"})
			return
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		if err := queue.Enqueue(msg); err != nil {
			c.reply(ws.TypeError, map[string]string{"message": err.Error(), "message_id": msg.ID})
			return
		}
		c.reply(ws.TypeAccepted, map[string]string{"message_id": msg.ID})
	default:
		c.reply(ws.TypeError, map[string]string{"message": "unknown frame type " + frame.Type})
	}
}

// reply queues a frame for this client only
func (c *Client) reply(typ string, content any) {
	frame, err := ws.NewFrame(typ, content)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.Send <- frame:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
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
