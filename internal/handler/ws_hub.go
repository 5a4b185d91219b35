package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/service"
)

// Event types sent over WebSocket.
const (
	EventConnected   = "connected"
	EventMatchUpdate = "match_update"
	EventError       = "error"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
	Data    any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	MatchID string `json:"match_id"`
}

// WSConn wraps a WebSocket connection with its user and live subscriptions.
type WSConn struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte

	mu     sync.Mutex
	subs   map[model.ResourceID]func()
	closed bool
}

func newWSConn(conn *websocket.Conn, userID string) *WSConn {
	return &WSConn{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufSize),
		subs:   make(map[model.ResourceID]func()),
	}
}

// push queues data without blocking. Slow clients lose messages rather than
// stalling the poller that delivers them.
func (c *WSConn) push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Hub manages WebSocket connections. Each match a connection subscribes to
// becomes one subscription on the live sync.
type Hub struct {
	sync        *service.Sync
	mu          sync.RWMutex
	connections map[*WSConn]bool
}

// NewHub creates a new Hub.
func NewHub(s *service.Sync) *Hub {
	return &Hub{
		sync:        s,
		connections: make(map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection and drops all of its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	delete(h.connections, c)
	h.mu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// Subscribe starts streaming a match to the connection. The current stored
// state, if any, is sent first.
func (h *Hub) Subscribe(c *WSConn, matchID model.ResourceID) {
	c.mu.Lock()
	if c.closed || c.subs[matchID] != nil {
		c.mu.Unlock()
		return
	}
	_, unsubscribe := h.sync.Subscribe(matchID, func(u model.StampedUpdate) {
		h.sendUpdate(c, matchID, u)
	})
	c.subs[matchID] = unsubscribe
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if u := h.sync.Snapshot(ctx, matchID); u != nil {
		h.sendUpdate(c, matchID, *u)
	}
}

// Unsubscribe stops streaming a match to the connection.
func (h *Hub) Unsubscribe(c *WSConn, matchID model.ResourceID) {
	c.mu.Lock()
	unsubscribe := c.subs[matchID]
	delete(c.subs, matchID)
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (h *Hub) sendUpdate(c *WSConn, matchID model.ResourceID, u model.StampedUpdate) {
	data, err := json.Marshal(WSEvent{Type: EventMatchUpdate, MatchID: string(matchID), Data: u})
	if err != nil {
		log.Error().Err(err).Str("matchId", string(matchID)).Msg("Failed to marshal WebSocket event")
		return
	}
	if !c.push(data) {
		log.Warn().Str("userId", c.userID).Str("matchId", string(matchID)).Msg("Dropping WebSocket message")
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// MatchSubscriberCount returns the number of connections subscribed to a match.
func (h *Hub) MatchSubscriberCount(matchID model.ResourceID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.connections {
		c.mu.Lock()
		if c.subs[matchID] != nil {
			n++
		}
		c.mu.Unlock()
	}
	return n
}
