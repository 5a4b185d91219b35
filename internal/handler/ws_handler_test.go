package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrvl/livesync/internal/auth"
)

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) testEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev testEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	f := newRouterFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestServeWSStreamsUpdates(t *testing.T) {
	f := newRouterFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, f.token(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Type != EventConnected {
		t.Fatalf("expected welcome, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", MatchID: "m1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "subscription", func() bool { return f.sync.Registry().ListenerCount("m1") == 1 })

	f.sync.Broadcast(context.Background(), "m1", liveSnapshot(7))
	ev := readEvent(t, conn)
	if ev.Type != EventMatchUpdate || ev.MatchID != "m1" || ev.Data.Team1Score != 7 {
		t.Fatalf("unexpected update: %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "dance", MatchID: "m1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Fatalf("expected error event, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "unsubscribe", MatchID: "m1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "unsubscribe", func() bool { return f.sync.Registry().ListenerCount("m1") == 0 })
}

func TestServeWSDisconnectReleasesPollers(t *testing.T) {
	f := newRouterFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, f.token(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	conn.WriteJSON(ClientMessage{Action: "subscribe", MatchID: "m1"})
	waitFor(t, "poller start", func() bool { return f.sync.Registry().PollerCount() == 1 })

	conn.Close()
	waitFor(t, "poller stop", func() bool { return f.sync.Registry().PollerCount() == 0 })
}
