// Package relay is the client-facing side of the service: one session per
// socket connection, each holding a transcription strategy and an append
// cursor, plus a hub that fans transcripts out to every connected client.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/observability/metrics"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
)

// wsConn is the part of *websocket.Conn the writer needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected socket. Messages are queued on a buffered channel
// and written by a single goroutine; a full queue drops the message.
type Client struct {
	id     string
	conn   wsConn
	send   chan []byte
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn wsConn) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logging.WithSession(id).With().Str("component", "relay-client").Logger(),
	}
}

// Send queues msg for this client only. Returns false when dropped.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the send queue until the client is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
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

// Hub tracks connected clients and fans broadcasts out to all of them.
// Membership is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		metrics:    metrics.OrDefault(m),
		logger:     logging.WithComponent("relay-hub"),
	}
}

// Run serves membership changes and broadcasts until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.metrics.ClientsActive.Set(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.ClientsActive.Set(float64(len(h.clients)))
			h.logger.Info().Str("sessionId", c.id).Int("clients", len(h.clients)).Msg("client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.metrics.ClientsActive.Set(float64(len(h.clients)))
			h.logger.Info().Str("sessionId", c.id).Int("clients", len(h.clients)).Msg("client disconnected")

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.Send(msg) {
					h.metrics.BroadcastsDropped.Inc()
					c.logger.Warn().Msg("send queue full, broadcast dropped")
				}
			}
		}
	}
}

// Register adds c to the broadcast set.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

// Unregister removes c and closes its queue.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// Broadcast queues msg for every client. Never blocks on a slow client.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
