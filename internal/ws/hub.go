// Package ws keeps live websocket connections per user for in-app reminders.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Connection wraps websocket.Conn with metadata. gorilla allows one
// concurrent writer, so writes go through mu.
type Connection struct {
	Conn   *websocket.Conn
	UserID uint64

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *Connection) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

func (c *Connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idle() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

type Hub struct {
	mu          sync.RWMutex
	connections map[uint64]map[*Connection]struct{}
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[uint64]map[*Connection]struct{}),
		logger:      logger,
	}
}

// Add registers a connection for a user
func (h *Hub) Add(userID uint64, conn *websocket.Conn) *Connection {
	c := &Connection{Conn: conn, UserID: userID, lastSeen: time.Now()}

	h.mu.Lock()
	if _, ok := h.connections[userID]; !ok {
		h.connections[userID] = make(map[*Connection]struct{})
	}
	h.connections[userID][c] = struct{}{}
	n := len(h.connections[userID])
	h.mu.Unlock()

	h.logger.Debug("ws connected", zap.Uint64("user_id", userID), zap.Int("total", n))
	return c
}

// Remove disconnects and removes a connection
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	if conns, ok := h.connections[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.UserID)
		}
	}
	h.mu.Unlock()

	_ = c.Conn.Close()
	h.logger.Debug("ws disconnected", zap.Uint64("user_id", c.UserID))
}

func (h *Hub) snapshot(userID uint64) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		out = append(out, c)
	}
	return out
}

// Send writes v as JSON to every connection of userID and returns how many
// accepted it. Broken connections are dropped.
func (h *Hub) Send(userID uint64, v any) int {
	sent := 0
	for _, c := range h.snapshot(userID) {
		if err := c.writeJSON(v); err != nil {
			h.logger.Info("ws send failed", zap.Uint64("user_id", userID), zap.Error(err))
			h.Remove(c)
			continue
		}
		sent++
	}
	return sent
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// Heartbeat pings all connections periodically and drops the ones that
// stopped answering.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		var all []*Connection
		for _, conns := range h.connections {
			for c := range conns {
				all = append(all, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range all {
			if c.idle() > 2*interval {
				h.Remove(c)
				continue
			}
			if err := c.ping(); err != nil {
				h.Remove(c)
			}
		}
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Connection
	for _, conns := range h.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.connections = make(map[uint64]map[*Connection]struct{})
	h.mu.Unlock()

	for _, c := range all {
		_ = c.Conn.Close()
	}
}
