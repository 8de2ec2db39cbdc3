package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linsyking/git-visualizer/internal/graph"
	"github.com/linsyking/git-visualizer/internal/watch"
)

var _ watch.Sink = (*Hub)(nil)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	defaultQueueSize = 256
)

// Message is one graph delta as the viewer consumes it.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans graph deltas out to every connected viewer. Each client has its
// own send queue and is disconnected when that queue is full.
type Hub struct {
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize int

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a hub with no clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:    logger,
		queueSize: defaultQueueSize,
		clients:   make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// NodeAdded sends an addnode message with the node's view.
func (h *Hub) NodeAdded(n *graph.Node) {
	h.broadcast(Message{Type: "addnode", Data: n.View()})
}

// NodeRemoved sends a removenode message with the node's view.
func (h *Hub) NodeRemoved(n *graph.Node) {
	h.broadcast(Message{Type: "removenode", Data: n.View()})
}

// EdgeAdded sends an addedge message for from -> to.
func (h *Hub) EdgeAdded(from, to string) {
	h.broadcast(Message{Type: "addedge", Data: graph.NewEdge(from, to)})
}

// EdgeRemoved sends a removeedge message for from -> to.
func (h *Hub) EdgeRemoved(from, to string) {
	h.broadcast(Message{Type: "removeedge", Data: graph.NewEdge(from, to)})
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encoding delta failed", "type", m.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow client", "client", id)
			delete(h.clients, id)
			c.close()
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// ServeHTTP upgrades the request and streams deltas until the connection
// drops. Incoming messages are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.queueSize),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("viewer connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
	h.logger.Info("viewer disconnected", "client", c.id)
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", "client", c.id, "error", err)
				h.unregister(c)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}
