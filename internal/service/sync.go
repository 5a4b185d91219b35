package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

// State is the lifecycle stage of a Sync.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Options configures a Sync.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	// Instance identifies this consumer in stored updates. A random id is
	// used when empty.
	Instance string
	Logger   zerolog.Logger
}

// Sync keeps local listeners for live matches converged with the match
// source and with every other consumer sharing the store.
type Sync struct {
	store    repository.SharedStore
	fetcher  repository.SnapshotFetcher
	opts     Options
	logger   zerolog.Logger
	registry *Registry
	paused   atomic.Bool

	mu        sync.Mutex
	state     State
	stopWatch func()
}

// New creates a Sync. Nothing runs until the first call that needs it.
func New(store repository.SharedStore, fetcher repository.SnapshotFetcher, opts Options) *Sync {
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	s := &Sync{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "sync").Str("instance", opts.Instance).Logger(),
	}
	s.registry = NewRegistry(s.startPoller, opts.Logger)
	return s
}

// Instance returns the id this consumer stamps on its writes.
func (s *Sync) Instance() string {
	return s.opts.Instance
}

// State returns the current lifecycle state.
func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registry exposes listener and poller counts.
func (s *Sync) Registry() *Registry {
	return s.registry
}

func (s *Sync) startPoller(id model.ResourceID) pollerHandle {
	p := NewPoller(id, s.fetcher, s.store,
		func(u model.StampedUpdate) { s.registry.Deliver(id, u) },
		PollerConfig{
			Interval:     s.opts.Interval,
			FetchTimeout: s.opts.FetchTimeout,
			Instance:     s.opts.Instance,
			Paused:       s.paused.Load,
		},
		s.opts.Logger,
	)
	p.Start()
	return p
}

// activate moves an uninitialized Sync to active and registers the single
// store watch. It reports false once destroyed. A failed watch is retried
// on the next call.
func (s *Sync) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDestroyed:
		return false
	case StateActive:
		return true
	}
	stop, err := s.store.Watch(s.onRemote)
	if err != nil {
		s.logger.Error().Err(err).Msg("Store watch failed, remote updates unavailable")
		return true
	}
	s.stopWatch = stop
	s.state = StateActive
	s.logger.Info().Msg("Sync active")
	return true
}

func (s *Sync) destroyed() bool {
	return s.State() == StateDestroyed
}

// Subscribe registers fn for id and returns its id and an unsubscribe func.
// The func is safe to call more than once.
func (s *Sync) Subscribe(id model.ResourceID, fn Listener) (SubscriptionID, func()) {
	if !s.activate() {
		return 0, func() {}
	}
	sid := s.registry.Subscribe(id, fn)
	if sid == 0 {
		return 0, func() {}
	}
	var once sync.Once
	return sid, func() {
		once.Do(func() { s.registry.Unsubscribe(id, sid) })
	}
}

// Unsubscribe removes one subscription. Unknown pairs are ignored.
func (s *Sync) Unsubscribe(id model.ResourceID, sid SubscriptionID) {
	s.registry.Unsubscribe(id, sid)
}

// Broadcast pushes snap to every consumer without waiting for a poll. Local
// listeners are notified even if the store write fails, but not when the
// store already holds a newer update.
func (s *Sync) Broadcast(ctx context.Context, id model.ResourceID, snap model.Snapshot) model.StampedUpdate {
	if !s.activate() {
		return model.StampedUpdate{}
	}
	update := model.NewStampedUpdate(snap, time.Now(), model.OriginBroadcast, s.opts.Instance)
	applied, err := s.store.Write(ctx, id, update)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("matchId", string(id)).Msg("Broadcast store write failed, notifying locally")
	case !applied:
		s.logger.Info().Str("matchId", string(id)).Msg("Broadcast rejected, store holds a newer update")
		return update
	}
	s.registry.Deliver(id, update)
	return update
}

// Snapshot returns the last stored update for id, or nil.
func (s *Sync) Snapshot(ctx context.Context, id model.ResourceID) *model.StampedUpdate {
	if !s.activate() {
		return nil
	}
	u, err := s.store.Read(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("matchId", string(id)).Msg("Snapshot read failed")
		return nil
	}
	return u
}

// Clear removes the stored value for id, e.g. when a match is archived.
func (s *Sync) Clear(ctx context.Context, id model.ResourceID) {
	if !s.activate() {
		return
	}
	if err := s.store.Clear(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("matchId", string(id)).Msg("Clear failed")
		return
	}
	s.registry.Reset(id)
}

// Pause suspends polling. Broadcasts and remote updates still flow.
func (s *Sync) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.logger.Info().Msg("Polling paused")
	}
}

// Resume restarts polling with an immediate poll of every match.
func (s *Sync) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		s.logger.Info().Msg("Polling resumed")
		s.registry.PokeAll()
	}
}

// Paused reports whether polling is paused.
func (s *Sync) Paused() bool {
	return s.paused.Load()
}

// onRemote handles writes made by other consumers.
func (s *Sync) onRemote(id model.ResourceID, update *model.StampedUpdate) {
	if s.destroyed() {
		return
	}
	if update == nil {
		s.registry.Reset(id)
		return
	}
	s.registry.Deliver(id, *update)
}

// Destroy stops every poller, drops all listeners and removes the store
// watch. The Sync is inert afterwards. Calling it again is a no-op.
func (s *Sync) Destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	s.registry.Close()
	if stop != nil {
		stop()
	}
	s.logger.Info().Msg("Sync destroyed")
}
