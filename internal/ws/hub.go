// Package ws pushes live charger status to connected dashboards. Clients are
// grouped by space so every dashboard only sees its own chargers.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusFetcher produces the payload pushed to the clients of one space.
type StatusFetcher func(ctx context.Context, spaceID string) (interface{}, error)

// Hub tracks connected websocket clients per space and pushes status
// snapshots on a fixed interval.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]string
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard runs inside a third-party iframe; its Origin
			// never matches ours, so the default same-origin check would
			// reject every client. Auth happens before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]string),
	}
}

// Serve upgrades the request and keeps the connection registered for the
// given space until the peer goes away. Clients only listen; inbound frames
// are drained to service control messages.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, spaceID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.conns[conn] = spaceID
	clients := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected",
		zap.String("space_id", spaceID),
		zap.Int("clients", clients))

	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// spaces returns the distinct space ids with at least one client.
func (h *Hub) spaces() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]struct{})
	for _, spaceID := range h.conns {
		seen[spaceID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast sends payload to every client of one space. Write failures drop
// the client.
func (h *Hub) Broadcast(spaceID string, payload interface{}) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn, id := range h.conns {
		if id == spaceID {
			conns = append(conns, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug("websocket write failed, dropping client", zap.Error(err))
			h.drop(conn)
		}
	}
}

// Run polls fetch for every space with clients on each interval and pushes
// the result. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration, fetch StatusFetcher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, spaceID := range h.spaces() {
				payload, err := fetch(ctx, spaceID)
				if err != nil {
					h.logger.Warn("status poll for websocket push failed",
						zap.String("space_id", spaceID),
						zap.Error(err))
					continue
				}
				h.Broadcast(spaceID, payload)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]string)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
