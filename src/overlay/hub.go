package overlay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"screen-ghost/src/logutil"
)

const clientSendBuffer = 8

// Hub fans payloads out to connected renderer sockets. A client whose
// queue fills up is disconnected rather than allowed to stall the
// capture loop.
type Hub struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Payload
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logutil.Or(logger), conns: make(map[string]*client)}
}

// Attach adopts an upgraded connection and starts its pumps. seed, if
// present, is queued first so a late joiner immediately has the
// current set.
func (h *Hub) Attach(conn *websocket.Conn, seed *Payload) string {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Payload, clientSendBuffer)}
	if seed != nil {
		c.send <- *seed
	}

	h.mu.Lock()
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("Overlay client connected",
		zap.String("client", c.id), zap.Int("clients", n))
	go h.writePump(c)
	go h.readPump(c)
	return c.id
}

func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteJSON(payload); err != nil {
			break
		}
	}
	h.drop(c)
}

// readPump only surfaces disconnects; the renderer sends nothing.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

// drop detaches a client. The send channel is closed under the lock
// and only while the client is still registered, so Broadcast can
// never write to a closed channel.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		close(c.send)
		h.logger.Info("Overlay client disconnected", zap.String("client", c.id))
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Broadcast queues payload for every client, disconnecting any whose
// buffer is full.
func (h *Hub) Broadcast(payload Payload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.conns {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Overlay client too slow, dropping", zap.String("client", id))
			delete(h.conns, id)
			close(c.send)
		}
	}
}

// ClientCount reports how many renderer connections are attached.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		delete(h.conns, id)
		close(c.send)
	}
}
