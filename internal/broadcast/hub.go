// Package broadcast fans feature batches out to websocket subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
	"cryptosignal/models"
)

const (
	clientBuffer = 256
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub keeps the connected clients and the last batches sent. A new client
// first receives the history, then live batches.
type Hub struct {
	register   chan *client
	unregister chan *client
	clients    map[*client]bool
	done       chan struct{}

	mu      sync.Mutex
	history [][]byte
	limit   int

	published atomic.Int64
	dropped   atomic.Int64
	bytes     atomic.Int64
	connected atomic.Int64

	log *logger.Log
}

func NewHub(history int) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		done:       make(chan struct{}),
		limit:      history,
		log:        logger.GetLogger(),
	}
}

// Run fans every batch from input out to the clients until input is closed
// or ctx is done. Slow clients miss batches instead of stalling the hub.
// Run must be called once.
func (h *Hub) Run(ctx context.Context, input <-chan models.FeatureBatch) {
	log := h.log.WithComponent("broadcast")
	defer func() {
		h.closeAll()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			h.connected.Store(int64(len(h.clients)))
			log.WithFields(logger.Fields{"clients": len(h.clients)}).Info("client connected")
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.connected.Store(int64(len(h.clients)))
				log.WithFields(logger.Fields{"clients": len(h.clients)}).Info("client disconnected")
			}
		case batch, ok := <-input:
			if !ok {
				log.Info("feature channel closed, hub stopping")
				return
			}
			msg, err := json.Marshal(batch)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{"pair": batch.Pair}).Error("failed to encode feature batch")
				continue
			}
			h.remember(msg)
			for c := range h.clients {
				select {
				case c.send <- msg:
					h.published.Add(1)
					h.bytes.Add(int64(len(msg)))
				default:
					h.dropped.Add(1)
					metrics.EmitDropMetric(h.log, metrics.DropMetricBroadcast, "", batch.Pair, "broadcast")
				}
			}
		}
	}
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.connected.Store(0)
}

func (h *Hub) remember(msg []byte) {
	if h.limit <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, msg)
	if len(h.history) > h.limit {
		h.history = append(h.history[:0], h.history[len(h.history)-h.limit:]...)
	}
}

// History returns the buffered batches, oldest first.
func (h *Hub) History() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Hub) Stats() metrics.PublisherStats {
	return metrics.PublisherStats{
		MessagesPublished: h.published.Load(),
		MessagesDropped:   h.dropped.Load(),
		BytesPublished:    h.bytes.Load(),
		Clients:           int(h.connected.Load()),
	}
}

// Handler upgrades the request to a websocket subscription.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.serveWs)
}

// Serve exposes the hub on addr at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.log.WithComponent("broadcast").WithFields(logger.Fields{"address": addr}).Info("websocket hub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartReport logs publisher counters every interval.
func (h *Hub) StartReport(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportPublisher(h.log, "broadcast", h.Stats())
		}
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithComponent("broadcast")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// History goes out before registering for live batches.
	for _, msg := range h.History() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.WithError(err).Warn("history stream interrupted")
			conn.Close()
			return
		}
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
