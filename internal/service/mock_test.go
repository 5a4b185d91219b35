package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
	"github.com/mrvl/livesync/internal/repository/memory"
)

var errUnavailable = errors.New("match api unavailable")

// mockFetcher returns whatever next produces for the n-th call (0-based).
type mockFetcher struct {
	mu    sync.Mutex
	calls int
	next  func(call int) (model.Snapshot, error)
}

func (m *mockFetcher) FetchSnapshot(_ context.Context, _ model.ResourceID) (model.Snapshot, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	next := m.next
	m.mu.Unlock()
	return next(call)
}

func (m *mockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockFetcher) set(next func(call int) (model.Snapshot, error)) {
	m.mu.Lock()
	m.next = next
	m.mu.Unlock()
}

func staticFetcher(snap model.Snapshot) *mockFetcher {
	return &mockFetcher{next: func(int) (model.Snapshot, error) { return snap, nil }}
}

// changingFetcher returns a different score on every call.
func changingFetcher() *mockFetcher {
	return &mockFetcher{next: func(call int) (model.Snapshot, error) {
		return model.Snapshot{Status: "live", Team1Score: call + 1}, nil
	}}
}

func failingFetcher() *mockFetcher {
	return &mockFetcher{next: func(int) (model.Snapshot, error) { return model.Snapshot{}, errUnavailable }}
}

type recordedWrite struct {
	at     time.Time
	id     model.ResourceID
	update model.StampedUpdate
}

// recordingStore wraps a store and records every applied write.
type recordingStore struct {
	repository.SharedStore
	mu     sync.Mutex
	writes []recordedWrite
}

func (s *recordingStore) Write(ctx context.Context, id model.ResourceID, u model.StampedUpdate) (bool, error) {
	applied, err := s.SharedStore.Write(ctx, id, u)
	if applied {
		s.mu.Lock()
		s.writes = append(s.writes, recordedWrite{at: time.Now(), id: id, update: u})
		s.mu.Unlock()
	}
	return applied, err
}

func (s *recordingStore) Writes() []recordedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func newRecordingStore(hub *memory.Hub) *recordingStore {
	return &recordingStore{SharedStore: hub.Open(repository.DefaultKeyPrefix, zerolog.Nop())}
}

// blockingStore holds every Write until its context is done.
type blockingStore struct {
	repository.SharedStore
	entered chan struct{}
}

func (s *blockingStore) Write(ctx context.Context, _ model.ResourceID, _ model.StampedUpdate) (bool, error) {
	select {
	case s.entered <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	<-ctx.Done()
	return false, ctx.Err()
}

func newBlockingStore(hub *memory.Hub) *blockingStore {
	return &blockingStore{
		SharedStore: hub.Open(repository.DefaultKeyPrefix, zerolog.Nop()),
		entered:     make(chan struct{}),
	}
}

// collector is a listener that records what it receives.
type collector struct {
	mu      sync.Mutex
	updates []model.StampedUpdate
}

func (c *collector) Listen(u model.StampedUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func (c *collector) Last() model.StampedUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[len(c.updates)-1]
}

const testInterval = 20 * time.Millisecond

func newTestSync(store repository.SharedStore, fetcher repository.SnapshotFetcher) *Sync {
	return New(store, fetcher, Options{
		Interval:     testInterval,
		FetchTimeout: time.Second,
		Logger:       zerolog.Nop(),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
