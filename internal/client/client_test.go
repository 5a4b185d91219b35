package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/handler"
	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
	"github.com/mrvl/livesync/internal/repository/memory"
	"github.com/mrvl/livesync/internal/service"
)

type missingFetcher struct{}

func (missingFetcher) FetchSnapshot(context.Context, model.ResourceID) (model.Snapshot, error) {
	return model.Snapshot{}, repository.ErrNotFound
}

func newServer(t *testing.T) (*httptest.Server, *service.Sync, *auth.JWTManager) {
	t.Helper()
	store := memory.NewHub().Open(repository.DefaultKeyPrefix, zerolog.Nop())
	s := service.New(store, missingFetcher{}, service.Options{Interval: 20 * time.Millisecond, Logger: zerolog.Nop()})
	mgr := auth.NewJWTManager("client-test")
	srv := httptest.NewServer(handler.NewRouter(s, mgr, "*"))
	t.Cleanup(func() {
		srv.Close()
		s.Destroy()
	})
	return srv, s, mgr
}

func token(t *testing.T, mgr *auth.JWTManager, role string) string {
	t.Helper()
	tok, err := mgr.GenerateAccessToken("cli", role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestBroadcastSnapshotClear(t *testing.T) {
	srv, _, mgr := newServer(t)
	c := New(srv.URL, token(t, mgr, auth.RoleScorer))
	ctx := context.Background()

	if _, err := c.Snapshot(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sent, err := c.Broadcast(ctx, "m1", []byte(`{"status":"live","team2_score":5}`))
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	got, err := c.Snapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got.Team2Score != 5 || got.Timestamp != sent.Timestamp {
		t.Errorf("unexpected snapshot %+v", got)
	}

	if err := c.Clear(ctx, "m1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := c.Snapshot(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestPauseResumeStatus(t *testing.T) {
	srv, _, mgr := newServer(t)
	c := New(srv.URL, token(t, mgr, auth.RoleScorer))
	ctx := context.Background()

	if err := c.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Paused || st.State != "uninitialized" {
		t.Errorf("unexpected status %+v", st)
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestViewerCannotBroadcast(t *testing.T) {
	srv, _, mgr := newServer(t)
	c := New(srv.URL, token(t, mgr, auth.RoleViewer))
	if _, err := c.Broadcast(context.Background(), "m1", []byte(`{}`)); err == nil {
		t.Fatal("expected forbidden error")
	}
}

func TestWebSocketEvents(t *testing.T) {
	srv, s, mgr := newServer(t)
	c := New(srv.URL, token(t, mgr, auth.RoleViewer))
	ctx := context.Background()

	if err := c.ConnectWS(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.CloseWS()

	next := func() Event {
		t.Helper()
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("events closed")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
		return Event{}
	}

	if ev := next(); ev.Type != "connected" {
		t.Fatalf("expected welcome, got %+v", ev)
	}
	if err := c.Subscribe("m1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Registry().ListenerCount("m1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Broadcast(ctx, "m1", model.Snapshot{Status: "live", Team1Score: 9})
	ev := next()
	u, err := ev.Update()
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if ev.MatchID != "m1" || u.Team1Score != 9 {
		t.Errorf("unexpected event %+v / %+v", ev, u)
	}
}
