// Package memory implements the shared store for consumers that live in one
// process. Values are kept serialized so every reader goes through the same
// decode path as the Redis adapter.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

const eventBufSize = 256

var ErrAlreadyWatching = errors.New("store is already being watched")

// Hub holds the shared values. Stores opened on the same Hub behave like
// separate consumers of one origin-scoped store.
type Hub struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[*Store]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		values:   make(map[string][]byte),
		watchers: make(map[*Store]struct{}),
	}
}

type notification struct {
	key   string
	value []byte // nil when cleared
}

// Store is one consumer's handle on a Hub.
type Store struct {
	hub    *Hub
	ns     repository.Namespace
	logger zerolog.Logger
	events chan notification

	mu   sync.Mutex
	done chan struct{}
}

// Open returns a new consumer handle using the given key prefix.
func (h *Hub) Open(prefix string, logger zerolog.Logger) *Store {
	return &Store{
		hub:    h,
		ns:     repository.Namespace{Prefix: prefix},
		logger: logger.With().Str("component", "memory-store").Logger(),
		events: make(chan notification, eventBufSize),
	}
}

// Put stores raw bytes under key and notifies every watcher. It bypasses
// encoding and the namespace, which lets tooling seed foreign or damaged values.
func (h *Hub) Put(key string, raw []byte) {
	h.mu.Lock()
	h.values[key] = raw
	targets := h.targetsLocked(nil)
	h.mu.Unlock()
	fanout(targets, notification{key: key, value: raw})
}

func (h *Hub) targetsLocked(except *Store) []*Store {
	targets := make([]*Store, 0, len(h.watchers))
	for s := range h.watchers {
		if s != except {
			targets = append(targets, s)
		}
	}
	return targets
}

func fanout(targets []*Store, n notification) {
	for _, s := range targets {
		select {
		case s.events <- n:
		default:
			s.logger.Warn().Str("key", n.key).Msg("Dropping store notification, buffer full")
		}
	}
}

// Write implements repository.SharedStore.
func (s *Store) Write(_ context.Context, id model.ResourceID, update model.StampedUpdate) (bool, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return false, err
	}
	key := s.ns.Key(id)

	s.hub.mu.Lock()
	if cur := s.decode(key, s.hub.values[key]); cur != nil && cur.Timestamp > update.Timestamp {
		s.hub.mu.Unlock()
		return false, nil
	}
	s.hub.values[key] = data
	targets := s.hub.targetsLocked(s)
	s.hub.mu.Unlock()

	fanout(targets, notification{key: key, value: data})
	return true, nil
}

// Read implements repository.SharedStore.
func (s *Store) Read(_ context.Context, id model.ResourceID) (*model.StampedUpdate, error) {
	key := s.ns.Key(id)
	s.hub.mu.Lock()
	raw := s.hub.values[key]
	s.hub.mu.Unlock()
	return s.decode(key, raw), nil
}

// Clear implements repository.SharedStore.
func (s *Store) Clear(_ context.Context, id model.ResourceID) error {
	key := s.ns.Key(id)
	s.hub.mu.Lock()
	_, existed := s.hub.values[key]
	delete(s.hub.values, key)
	targets := s.hub.targetsLocked(s)
	s.hub.mu.Unlock()

	if existed {
		fanout(targets, notification{key: key})
	}
	return nil
}

// Watch implements repository.SharedStore.
func (s *Store) Watch(handler repository.ChangeHandler) (func(), error) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyWatching
	}
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.hub.mu.Lock()
	s.hub.watchers[s] = struct{}{}
	s.hub.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case n := <-s.events:
				s.dispatch(handler, n)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.hub.mu.Lock()
			delete(s.hub.watchers, s)
			s.hub.mu.Unlock()
			close(done)
			s.mu.Lock()
			s.done = nil
			s.mu.Unlock()
		})
	}
	return stop, nil
}

func (s *Store) dispatch(handler repository.ChangeHandler, n notification) {
	id, ok := s.ns.Parse(n.key)
	if !ok {
		s.logger.Debug().Str("key", n.key).Msg("Ignoring change outside namespace")
		return
	}
	if n.value == nil {
		handler(id, nil)
		return
	}
	update := s.decode(n.key, n.value)
	if update == nil {
		return
	}
	handler(id, update)
}

// decode returns nil for missing or malformed documents; the latter is logged.
func (s *Store) decode(key string, raw []byte) *model.StampedUpdate {
	if raw == nil {
		return nil
	}
	var u model.StampedUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding malformed stored update")
		return nil
	}
	return &u
}

var _ repository.SharedStore = (*Store)(nil)
