package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
	"github.com/mrvl/livesync/internal/repository/memory"
	"github.com/mrvl/livesync/internal/service"
)

// notFoundFetcher reports every match as missing, so pollers stay quiet and
// only broadcasts produce updates.
type notFoundFetcher struct{}

func (notFoundFetcher) FetchSnapshot(context.Context, model.ResourceID) (model.Snapshot, error) {
	return model.Snapshot{}, repository.ErrNotFound
}

func newTestSync(t *testing.T) *service.Sync {
	t.Helper()
	store := memory.NewHub().Open(repository.DefaultKeyPrefix, zerolog.Nop())
	s := service.New(store, notFoundFetcher{}, service.Options{
		Interval: 20 * time.Millisecond,
		Instance: "test",
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(s.Destroy)
	return s
}

func liveSnapshot(team1 int) model.Snapshot {
	return model.Snapshot{Status: "live", Team1Score: team1, CurrentMap: "Busan", CurrentMapNumber: 1}
}

type testEvent struct {
	Type    string              `json:"type"`
	MatchID string              `json:"match_id"`
	Data    model.StampedUpdate `json:"data"`
}

// nextEvent reads one queued message from c or fails after a second.
func nextEvent(t *testing.T, c *WSConn) testEvent {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var ev testEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return testEvent{}
}

func expectNoEvent(t *testing.T, c *WSConn) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
