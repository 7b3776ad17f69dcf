// Package livereload tells connected browsers to refresh after a rebuild.
//
// Each browser holds a WebSocket to the Hub. A broadcast queues one empty
// binary frame per client; clients that are gone or still have an unsent
// notification are dropped from the registry.
package livereload

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

const writeWait = 5 * time.Second

type client struct {
	send   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	remote string
}

// Hub is the live-reload registry and WebSocket handler.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	origins  []string
	logger   logging.Logger
	shutdown bool
}

// NewHub creates a Hub accepting upgrades from origins matching the given
// host patterns (see websocket.AcceptOptions.OriginPatterns).
func NewHub(origins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		origins: origins,
		logger:  logger.WithComponent("livereload"),
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast queues a reload notification for every client and returns how
// many received one. It never blocks on a client.
func (h *Hub) Broadcast(ctx context.Context) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients {
		if c.ctx.Err() != nil {
			delete(h.clients, c)
			continue
		}
		select {
		case c.send <- struct{}{}:
			sent++
		default:
			h.logger.Debug(ctx, "Pruning slow client", "remote", c.remote)
			delete(h.clients, c)
			c.cancel()
		}
	}

	h.logger.Info(ctx, "Notified live-reload clients", "clients", sent)
	return sent
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	for c := range h.clients {
		c.cancel()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and forwards reload notifications until
// the client goes away or is pruned.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	// client frames carry nothing; CloseRead discards them and cancels ctx
	// once the peer closes
	ctx, cancel := context.WithCancel(conn.CloseRead(context.Background()))
	defer cancel()

	c := &client{
		send:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		remote: r.RemoteAddr,
	}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)

	h.logger.Debug(ctx, "Live-reload client connected", "remote", c.remote)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			h.logger.Debug(context.Background(), "Live-reload client disconnected", "remote", c.remote)
			return
		case <-c.send:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageBinary, []byte{})
			writeCancel()
			if err != nil {
				h.logger.Debug(context.Background(), "Live-reload write failed", "remote", c.remote, "error", err.Error())
				conn.CloseNow()
				return
			}
		}
	}
}
