package uiserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Raikerian/go-live-interpreter/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types pushed to clients.
const (
	MessageStatus = "status"
	MessageLevel  = "level"
)

// Message is one update pushed over the live feed.
type Message struct {
	Type   string            `json:"type"`
	Status *session.Snapshot `json:"status,omitempty"`
	Level  *float32          `json:"level,omitempty"`
}

// Hub fans status and level updates out to websocket clients. Level
// updates are throttled across all clients.
type Hub struct {
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub sending at most levelsPerSecond level updates.
func NewHub(logger *zap.Logger, levelsPerSecond float64) *Hub {
	limit := rate.Inf
	if levelsPerSecond > 0 {
		limit = rate.Limit(levelsPerSecond)
	}
	return &Hub{
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		clients: make(map[string]*client),
	}
}

// PublishStatus sends s to every client.
func (h *Hub) PublishStatus(s session.Snapshot) {
	h.broadcast(Message{Type: MessageStatus, Status: &s})
}

// PublishLevel sends a loudness update unless the rate limit is exceeded.
func (h *Hub) PublishLevel(level float32) {
	if !h.limiter.Allow() {
		return
	}
	h.broadcast(Message{Type: MessageLevel, Level: &level})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Serve upgrades the request and runs the client until it disconnects.
// initial is sent before any broadcast.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial session.Snapshot) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	c := &client{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: h.logger.With(zap.String("client_id", id)),
	}

	if data, err := json.Marshal(Message{Type: MessageStatus, Status: &initial}); err == nil {
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	c.logger.Info("Live feed client connected", zap.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.logger.Info("Live feed client disconnected")
	return nil
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode live feed message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		c.enqueue(data, msg.Type)
	}
}

type client struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (c *client) enqueue(data []byte, kind string) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping message", zap.String("type", kind))
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.ws.Close()
}

// readPump drains client frames so control messages are processed. The feed
// is one-way; payloads are ignored.
func (c *client) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Live feed read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
