// Package client talks to a livesync server over HTTP and WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/model"
)

// ErrNotFound is returned when the server has no live state for a match.
var ErrNotFound = errors.New("not found")

// Event mirrors the server's WebSocket envelope.
type Event struct {
	Type    string          `json:"type"`
	MatchID string          `json:"match_id"`
	Data    json.RawMessage `json:"data"`
}

// Update decodes the event payload as a stamped update.
func (e Event) Update() (model.StampedUpdate, error) {
	var u model.StampedUpdate
	err := json.Unmarshal(e.Data, &u)
	return u, err
}

// Status is the server's sync status.
type Status struct {
	State    string   `json:"state"`
	Paused   bool     `json:"paused"`
	Instance string   `json:"instance"`
	Pollers  int      `json:"pollers"`
	Matches  []string `json:"matches"`
}

// Client is an HTTP+WebSocket client for one authenticated user.
type Client struct {
	baseURL string
	token   string
	httpC   *http.Client

	mu       sync.Mutex
	wsConn   *websocket.Conn
	events   chan Event
	closedWS bool
}

// New creates a client targeting the given server URL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		events:  make(chan Event, 64),
		httpC:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Snapshot returns the server's stored state for a match.
func (c *Client) Snapshot(ctx context.Context, id string) (model.StampedUpdate, error) {
	var u model.StampedUpdate
	err := c.do(ctx, http.MethodGet, "/api/v1/matches/"+url.PathEscape(id)+"/snapshot", nil, &u)
	return u, err
}

// Broadcast pushes a match document through the server. doc may be a bare
// snapshot or wrapped in a data envelope.
func (c *Client) Broadcast(ctx context.Context, id string, doc []byte) (model.StampedUpdate, error) {
	var u model.StampedUpdate
	err := c.do(ctx, http.MethodPost, "/api/v1/matches/"+url.PathEscape(id)+"/broadcast", doc, &u)
	return u, err
}

// Clear removes the stored state for a match.
func (c *Client) Clear(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/matches/"+url.PathEscape(id)+"/snapshot", nil, nil)
}

// Pause suspends polling on the server.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync/pause", nil, nil)
}

// Resume restarts polling on the server.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync/resume", nil, nil)
}

// Status returns the server's sync status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ConnectWS opens a WebSocket connection and starts listening for events.
func (c *Client) ConnectWS(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws?token=" + url.QueryEscape(c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.mu.Unlock()

	go c.readWSLoop(conn)
	return nil
}

// Subscribe asks the server to stream a match.
func (c *Client) Subscribe(id string) error {
	return c.send("subscribe", id)
}

// Unsubscribe stops streaming a match.
func (c *Client) Unsubscribe(id string) error {
	return c.send("unsubscribe", id)
}

func (c *Client) send(action, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil || c.closedWS {
		return errors.New("websocket not connected")
	}
	return c.wsConn.WriteJSON(map[string]string{"action": action, "match_id": id})
}

// Events returns the channel of incoming WebSocket events. It is closed when
// the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// CloseWS closes the WebSocket connection.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

func (c *Client) readWSLoop(conn *websocket.Conn) {
	defer close(c.events)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closedWS
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Msg("WS read error")
			}
			return
		}
		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		c.events <- event
	}
}
