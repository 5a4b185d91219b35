// Package app assembles a live sync from configuration. The server and the
// livewatch CLI share it so both wire stores and sources the same way.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/config"
	"github.com/mrvl/livesync/internal/fetch"
	"github.com/mrvl/livesync/internal/logger"
	"github.com/mrvl/livesync/internal/repository"
	"github.com/mrvl/livesync/internal/repository/memory"
	"github.com/mrvl/livesync/internal/repository/postgres"
	redisrepo "github.com/mrvl/livesync/internal/repository/redis"
	"github.com/mrvl/livesync/internal/service"
)

// Deps holds everything built for a Sync so callers can release it.
type Deps struct {
	Sync     *service.Sync
	JWT      *auth.JWTManager
	Instance string
	Store    repository.SharedStore
	Fetcher  repository.SnapshotFetcher
	// Matches is set when snapshots come from Postgres.
	Matches *postgres.MatchRepo

	closers []func() error
}

// Close destroys the Sync and releases connections in reverse order.
func (d *Deps) Close() {
	if d.Sync != nil {
		d.Sync.Destroy()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error releasing resource")
		}
	}
	d.closers = nil
}

// Build connects the configured store and snapshot source and returns a
// Sync over them. On error everything opened so far is released.
func Build(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{JWT: auth.NewJWTManager(cfg.JWTSecret), Instance: cfg.InstanceID}
	// The store filters notifications of its own writes by the id the Sync
	// stamps on them, so both must use the same one.
	if d.Instance == "" {
		d.Instance = uuid.NewString()
	}

	store, err := d.openStore(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Store = store

	fetcher, err := d.openSource(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Fetcher = fetcher

	d.Sync = service.New(store, fetcher, service.Options{
		Interval:     cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
		Instance:     d.Instance,
		Logger:       logger.Get(),
	})
	return d, nil
}

func (d *Deps) openStore(ctx context.Context, cfg *config.Config) (repository.SharedStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		log.Warn().Msg("Using in-process store, updates are not shared between processes")
		return memory.NewHub().Open(cfg.KeyPrefix, logger.Component("memory-store")), nil
	default:
		client, err := redisrepo.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		d.closers = append(d.closers, client.Close)

		if err := client.EnableKeyspaceEvents(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to enable Redis keyspace notifications (remote updates may not arrive)")
		}
		return client.LiveStore(redisrepo.LiveStoreOptions{
			Prefix:    cfg.KeyPrefix,
			Instance:  d.Instance,
			CacheSize: cfg.ReadCacheSize,
			CacheTTL:  cfg.ReadCacheTTL,
			Logger:    logger.Get(),
		}), nil
	}
}

func (d *Deps) openSource(ctx context.Context, cfg *config.Config) (repository.SnapshotFetcher, error) {
	switch cfg.SnapshotSource {
	case config.SourcePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		d.Matches = postgres.NewMatchRepo(db)
		return d.Matches, nil
	default:
		return fetch.NewClient(cfg.MatchAPIURL, d.credentials(cfg), fetch.Options{
			Timeout:    cfg.FetchTimeout,
			RatePerSec: cfg.FetchRate,
			Logger:     logger.Get(),
		}), nil
	}
}

// credentials picks the match API credential: OAuth2 client credentials
// when configured, then a fixed token, then a self-minted service token.
func (d *Deps) credentials(cfg *config.Config) auth.CredentialSource {
	switch {
	case cfg.OAuthTokenURL != "":
		log.Info().Str("tokenURL", cfg.OAuthTokenURL).Msg("Using OAuth2 client credentials for match API")
		return auth.NewOAuth2Credential(context.Background(), cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret)
	case cfg.ServiceToken != "":
		return auth.StaticCredential(cfg.ServiceToken)
	default:
		return auth.NewTokenMinter(d.JWT, "livesync")
	}
}
