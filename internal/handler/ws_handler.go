package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/model"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	maxMsgSize  = 1024
	sendBufSize = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSHandler upgrades viewers to a live match stream.
type WSHandler struct {
	hub    *Hub
	jwtMgr *auth.JWTManager
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr}
}

// ServeWS handles GET /api/v1/ws. Browsers cannot set headers on a
// WebSocket handshake, so the token travels as ?token=.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.jwtMgr.ValidateToken(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("userId", claims.UserID).Msg("WebSocket upgrade failed")
		return
	}

	c := newWSConn(conn, claims.UserID)
	h.hub.Register(c)
	h.emit(c, WSEvent{Type: EventConnected, Data: map[string]string{"user_id": claims.UserID}})

	go h.writePump(c)
	go h.readPump(c)

	log.Info().Str("userId", claims.UserID).Int("connections", h.hub.ConnectionCount()).Msg("Viewer connected")
}

// readPump applies subscription requests until the connection fails.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("userId", c.userID).Int("connections", h.hub.ConnectionCount()).Msg("Viewer disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("userId", c.userID).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		h.handleMessage(c, raw)
	}
}

func (h *WSHandler) handleMessage(c *WSConn, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.MatchID == "" {
		h.emitError(c, msg.MatchID, "invalid message")
		return
	}
	id := model.ResourceID(msg.MatchID)
	switch msg.Action {
	case "subscribe":
		h.hub.Subscribe(c, id)
	case "unsubscribe":
		h.hub.Unsubscribe(c, id)
	default:
		h.emitError(c, msg.MatchID, "unknown action")
	}
}

func (h *WSHandler) emit(c *WSConn, ev WSEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	c.push(data)
}

func (h *WSHandler) emitError(c *WSConn, matchID, msg string) {
	h.emit(c, WSEvent{Type: EventError, MatchID: matchID, Data: map[string]string{"error": msg}})
}

// writePump drains the send queue and keeps the connection alive with pings.
// It exits when the hub closes the queue or a write fails.
func (h *WSHandler) writePump(c *WSConn) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
