package repository

import (
	"context"
	"errors"

	"github.com/mrvl/livesync/internal/model"
)

var (
	ErrNotFound     = errors.New("match not found")
	ErrUnauthorized = errors.New("credential rejected by match source")
)

// DefaultKeyPrefix namespaces live match documents in the shared store.
const DefaultKeyPrefix = "mrvl_live_match_"

// SnapshotFetcher fetches the current server-side state of a match.
// Any non-success outcome is returned as an error.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, id model.ResourceID) (model.Snapshot, error)
}

// ChangeHandler receives writes made by other consumers. A nil update means
// the value was cleared.
type ChangeHandler func(id model.ResourceID, update *model.StampedUpdate)

// SharedStore is the durable key/value surface shared by every consumer.
// It doubles as the broadcast channel: writes are announced to the other
// consumers watching the same namespace, never back to the writer.
type SharedStore interface {
	// Write replaces the value for id. It reports false without error when the
	// stored value carries a strictly newer timestamp.
	Write(ctx context.Context, id model.ResourceID, update model.StampedUpdate) (bool, error)
	// Read returns the last written value, or nil if none exists or the stored
	// document cannot be decoded.
	Read(ctx context.Context, id model.ResourceID) (*model.StampedUpdate, error)
	Clear(ctx context.Context, id model.ResourceID) error
	// Watch subscribes once for the whole namespace. The returned stop func
	// must be called exactly once.
	Watch(handler ChangeHandler) (stop func(), err error)
}

// Namespace maps resource ids to store keys and back.
type Namespace struct {
	Prefix string
}

// Key returns the store key for id.
func (n Namespace) Key(id model.ResourceID) string {
	return n.Prefix + string(id)
}

// Parse returns the id for key, or false when key is outside the namespace.
func (n Namespace) Parse(key string) (model.ResourceID, bool) {
	if len(key) <= len(n.Prefix) || key[:len(n.Prefix)] != n.Prefix {
		return "", false
	}
	return model.ResourceID(key[len(n.Prefix):]), true
}
