package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
)

// Listener receives updates for a subscribed match. It may be called more
// than once with equivalent data.
type Listener func(update model.StampedUpdate)

// SubscriptionID identifies one Subscribe call.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn Listener
}

type entry struct {
	subs          []subscription
	poller        pollerHandle
	lastDelivered int64
}

// Registry tracks listeners per match and owns one poller for every match
// that has at least one listener. Poller calls made under mu do not wait
// on the store, except Stop which cancels an in-flight write first.
type Registry struct {
	startPoller func(id model.ResourceID) pollerHandle
	logger      zerolog.Logger

	mu      sync.Mutex
	nextID  SubscriptionID
	entries map[model.ResourceID]*entry
	closed  bool
}

// NewRegistry creates a Registry. startPoller must return a running poller.
func NewRegistry(startPoller func(id model.ResourceID) pollerHandle, logger zerolog.Logger) *Registry {
	return &Registry{
		startPoller: startPoller,
		logger:      logger.With().Str("component", "registry").Logger(),
		entries:     make(map[model.ResourceID]*entry),
	}
}

// Subscribe adds fn under id and starts the poller on the first listener.
// It returns 0 once the registry is closed.
func (r *Registry) Subscribe(id model.ResourceID, fn Listener) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}

	r.nextID++
	sid := r.nextID
	e := r.entries[id]
	if e == nil {
		e = &entry{}
		r.entries[id] = e
	}
	e.subs = append(e.subs, subscription{id: sid, fn: fn})
	if e.poller == nil {
		e.poller = r.startPoller(id)
		r.logger.Debug().Str("matchId", string(id)).Msg("Poller started")
	}
	return sid
}

// Unsubscribe removes one subscription. Removing the last one stops the
// poller before returning. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(id model.ResourceID, sid SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[id]
	if e == nil {
		return
	}
	for i, s := range e.subs {
		if s.id == sid {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			break
		}
	}
	if len(e.subs) > 0 {
		return
	}
	if e.poller != nil {
		e.poller.Stop()
		r.logger.Debug().Str("matchId", string(id)).Msg("Poller stopped")
	}
	delete(r.entries, id)
}

// Deliver hands update to every listener of id. Updates older than the last
// one delivered for id are dropped. The poller's last known state follows
// every delivered update.
func (r *Registry) Deliver(id model.ResourceID, update model.StampedUpdate) {
	r.mu.Lock()
	e := r.entries[id]
	if e == nil || r.closed {
		r.mu.Unlock()
		return
	}
	if update.Timestamp < e.lastDelivered {
		r.mu.Unlock()
		r.logger.Debug().Str("matchId", string(id)).Int64("timestamp", update.Timestamp).
			Int64("last", e.lastDelivered).Msg("Dropping stale update")
		return
	}
	e.lastDelivered = update.Timestamp
	if e.poller != nil {
		e.poller.Observe(update.Snapshot)
	}
	listeners := make([]subscription, len(e.subs))
	copy(listeners, e.subs)
	r.mu.Unlock()

	for _, s := range listeners {
		r.invoke(id, s, update)
	}
}

func (r *Registry) invoke(id model.ResourceID, s subscription, update model.StampedUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("matchId", string(id)).
				Uint64("subscription", uint64(s.id)).Msg("Listener panicked")
		}
	}()
	s.fn(update)
}

// Reset forgets everything known about id's current value, used when the
// stored value is cleared.
func (r *Registry) Reset(id model.ResourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		e.lastDelivered = 0
		if e.poller != nil {
			e.poller.Forget()
		}
	}
}

// PokeAll asks every poller for an immediate poll.
func (r *Registry) PokeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.poller != nil {
			e.poller.Poke()
		}
	}
}

// Close stops every poller and drops all subscriptions. Later calls to
// Subscribe are refused.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, e := range r.entries {
		if e.poller != nil {
			e.poller.Stop()
		}
		delete(r.entries, id)
	}
}

// PollerCount returns the number of running pollers.
func (r *Registry) PollerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.poller != nil {
			n++
		}
	}
	return n
}

// ListenerCount returns the number of listeners for id.
func (r *Registry) ListenerCount(id model.ResourceID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		return len(e.subs)
	}
	return 0
}

// Matches returns the ids that currently have listeners.
func (r *Registry) Matches() []model.ResourceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]model.ResourceID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
