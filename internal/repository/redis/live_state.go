package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

// casScript replaces the value unless the stored document carries a strictly
// newer timestamp. Unreadable stored values are overwritten.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and type(doc) == 'table' then
    local ts = tonumber(doc['timestamp'])
    if ts and ts > tonumber(ARGV[2]) then
      return 0
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 2 * time.Second
)

// LiveStoreOptions configures a LiveStore.
type LiveStoreOptions struct {
	Prefix    string
	Instance  string
	CacheSize int
	CacheTTL  time.Duration
	Logger    zerolog.Logger
}

// LiveStore is the Redis-backed shared store. Values are JSON documents under
// namespaced keys; changes are announced through Redis keyspace notifications.
type LiveStore struct {
	rdb      *redis.Client
	ns       repository.Namespace
	instance string
	channel  string // keyspace channel prefix for the selected db
	cache    *expirable.LRU[string, model.StampedUpdate]
	logger   zerolog.Logger
}

// LiveStore returns a shared store over this client.
func (c *Client) LiveStore(opts LiveStoreOptions) *LiveStore {
	if opts.Prefix == "" {
		opts.Prefix = repository.DefaultKeyPrefix
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	return &LiveStore{
		rdb:      c.rdb,
		ns:       repository.Namespace{Prefix: opts.Prefix},
		instance: opts.Instance,
		channel:  fmt.Sprintf("__keyspace@%d__:", c.rdb.Options().DB),
		cache:    expirable.NewLRU[string, model.StampedUpdate](opts.CacheSize, nil, opts.CacheTTL),
		logger:   opts.Logger.With().Str("component", "redis-store").Logger(),
	}
}

// Instance returns the writer id whose notifications Watch skips. Updates
// written with an empty Instance are stamped with it.
func (s *LiveStore) Instance() string {
	return s.instance
}

// Write stores the update unless a newer one is already there.
func (s *LiveStore) Write(ctx context.Context, id model.ResourceID, update model.StampedUpdate) (bool, error) {
	if update.Instance == "" {
		update.Instance = s.instance
	}
	data, err := json.Marshal(update)
	if err != nil {
		return false, fmt.Errorf("encode update: %w", err)
	}
	key := s.ns.Key(id)
	applied, err := casScript.Run(ctx, s.rdb, []string{key}, data, update.Timestamp).Int()
	if err != nil {
		return false, fmt.Errorf("write live state: %w", err)
	}
	if applied == 0 {
		return false, nil
	}
	s.cache.Add(key, update)
	return true, nil
}

// Read returns the stored update, serving recent values from the local cache.
func (s *LiveStore) Read(ctx context.Context, id model.ResourceID) (*model.StampedUpdate, error) {
	key := s.ns.Key(id)
	if u, ok := s.cache.Get(key); ok {
		return &u, nil
	}
	u, err := s.load(ctx, key)
	if err != nil || u == nil {
		return nil, err
	}
	s.cache.Add(key, *u)
	return u, nil
}

// load reads the key from Redis. Malformed documents are logged and read as absent.
func (s *LiveStore) load(ctx context.Context, key string) (*model.StampedUpdate, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live state: %w", err)
	}
	var u model.StampedUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding malformed stored update")
		return nil, nil
	}
	return &u, nil
}

// Clear removes the stored value for id.
func (s *LiveStore) Clear(ctx context.Context, id model.ResourceID) error {
	key := s.ns.Key(id)
	s.cache.Remove(key)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear live state: %w", err)
	}
	return nil
}

// Watch subscribes to keyspace notifications for the whole namespace.
func (s *LiveStore) Watch(handler repository.ChangeHandler) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.PSubscribe(ctx, s.channel+s.ns.Prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe keyspace: %w", err)
	}

	go func() {
		s.logger.Info().Str("prefix", s.ns.Prefix).Msg("Live store watch started")
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handleKeyspace(ctx, msg.Channel, msg.Payload, handler)
			}
		}
	}()

	// stop does not wait for the receive loop, so it is safe to call from
	// inside handler.
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			pubsub.Close()
			s.logger.Info().Msg("Live store watch stopped")
		})
	}
	return stop, nil
}

// handleKeyspace processes one keyspace notification. Only keys inside the
// namespace are acted on, and this instance's own writes are skipped.
func (s *LiveStore) handleKeyspace(ctx context.Context, channel, event string, handler repository.ChangeHandler) {
	key, ok := strings.CutPrefix(channel, s.channel)
	if !ok {
		return
	}
	id, ok := s.ns.Parse(key)
	if !ok {
		return
	}

	switch event {
	case "set":
		u, err := s.load(ctx, key)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Str("key", key).Msg("Failed to load changed live state")
			}
			return
		}
		if u == nil || u.Instance == s.instance {
			return
		}
		s.cache.Add(key, *u)
		handler(id, u)
	case "del", "expired", "evicted":
		s.cache.Remove(key)
		handler(id, nil)
	}
}

var _ repository.SharedStore = (*LiveStore)(nil)
