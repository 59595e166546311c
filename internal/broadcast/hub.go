package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ReplayFunc returns the events a newly connected client needs to catch up.
type ReplayFunc func() []core.UIEvent

// Hub implements core.Emitter for websocket clients.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	wg       sync.WaitGroup
	upgrader websocket.Upgrader
	replay   ReplayFunc
	workflow string
	log      *logger.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates a hub that stamps workflowID on every envelope.
func NewHub(workflowID string, log *logger.Logger) *Hub {
	return &Hub{
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The overlay is loaded by streaming software from arbitrary local origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		workflow: workflowID,
		log:      log,
	}
}

// SetReplay installs the replay source. It must be called before serving clients.
func (h *Hub) SetReplay(replay ReplayFunc) {
	h.replay = replay
}

// Emit queues the event for every connected client. Slow clients drop events.
func (h *Hub) Emit(event string, payload any) {
	data, err := encode(h.workflow, event, payload)
	if err != nil {
		h.log.Error("%v", err)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("Dropping %s event for slow UI client %s", event, c.conn.RemoteAddr())
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// ServeHTTP upgrades the request and replays the current state to the new client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed: %v", err)

		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	if h.replay != nil {
		for _, replayed := range h.replay() {
			data, encodeErr := encode(h.workflow, replayed.Name, replayed.Payload)
			if encodeErr == nil {
				c.send <- data
			}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()

		return
	}

	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	metrics.UIClients.Inc()
	h.log.Info("UI client connected from %s", conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true

	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.disconnect()
	}

	h.wg.Wait()
}

// disconnect removes the client and stops its writer. It is safe to call more than once.
func (c *client) disconnect() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		close(c.send)
		c.hub.mu.Unlock()

		metrics.UIClients.Dec()
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer c.hub.wg.Done()
	defer ticker.Stop()
	defer c.disconnect()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)

				return
			}

			err := c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
