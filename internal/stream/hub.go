// Package stream pushes guidance decisions to connected dashboards over
// WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub tracks active WebSocket connections per session and fans decisions
// out to them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for a session.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.active[sessionID][conn] = struct{}{}
	slog.Info("Decision stream registered", "session_id", sessionID, "connections", len(h.active[sessionID]))
}

// Unregister removes a connection for a session.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, sessionID)
		}
		slog.Info("Decision stream unregistered", "session_id", sessionID)
	}
}

// ConnectionCount returns the number of active connections for a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// Broadcast sends a guidance decision to every connection watching its
// session. Write failures are logged and the connection is dropped from
// the hub; the client reconnects on its own.
func (h *Hub) Broadcast(decision *domain.GuidanceDecision) {
	data, err := json.Marshal(decision)
	if err != nil {
		slog.Warn("failed to marshal decision for broadcast", "error", err, "session_id", decision.SessionID)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[decision.SessionID]))
	for conn := range h.active[decision.SessionID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("decision stream write failed, dropping connection",
				"error", err, "session_id", decision.SessionID)
			h.Unregister(decision.SessionID, conn)
			_ = conn.Close(websocket.StatusNormalClosure, "write failed")
		}
	}
}

// CloseSession forcefully terminates all connections for a session, e.g.
// when the TTL sweeper abandons it.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	conns := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	if len(conns) > 0 {
		slog.Info("Decision stream closed", "session_id", sessionID, "connections", len(conns))
	}
}
