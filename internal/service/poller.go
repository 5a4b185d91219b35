package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

// Defaults applied by NewPoller when PollerConfig leaves a field zero.
const (
	DefaultInterval     = 200 * time.Millisecond
	DefaultFetchTimeout = 5 * time.Second
)

// pollerHandle is what the registry needs from a running poller.
type pollerHandle interface {
	Stop()
	Observe(snap model.Snapshot)
	Forget()
	Poke()
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	// FetchTimeout bounds each fetch and each store write.
	FetchTimeout time.Duration
	Instance     string
	// Paused reports whether ticks should be skipped.
	Paused func() bool
}

// Poller periodically fetches one match and dispatches meaningful changes.
// A dispatch writes the store and then notifies local listeners.
type Poller struct {
	id      model.ResourceID
	fetcher repository.SnapshotFetcher
	store   repository.SharedStore
	deliver func(model.StampedUpdate)
	cfg     PollerConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
	poke    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	lastKnown atomic.Pointer[model.Snapshot]
	stopped   atomic.Bool

	// mu is held from the stopped check through the store write, so Stop
	// can wait out a write already in progress.
	mu sync.Mutex
}

// NewPoller creates a stopped Poller. deliver is called from the poller
// goroutine with every update it writes.
func NewPoller(id model.ResourceID, fetcher repository.SnapshotFetcher, store repository.SharedStore,
	deliver func(model.StampedUpdate), cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Paused == nil {
		cfg.Paused = func() bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		id:      id,
		fetcher: fetcher,
		store:   store,
		deliver: deliver,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:  logger.With().Str("component", "poller").Str("matchId", string(id)).Logger(),
		poke:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the poll loop. The first fetch happens immediately.
func (p *Poller) Start() {
	go p.run(p.ctx)
}

// Stop cancels the loop. Once Stop returns no further store writes or
// dispatches happen, though the goroutine may still be unwinding a fetch.
// A store write in progress is cancelled and waited for.
func (p *Poller) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	p.cancel()
	// Wait for a tick that passed the stopped check to finish its write.
	p.mu.Lock()
	defer p.mu.Unlock()
}

// Done is closed when the poll goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Observe records snap as the last known state, so an identical fetch is
// not dispatched again. It never blocks.
func (p *Poller) Observe(snap model.Snapshot) {
	if !p.stopped.Load() {
		p.lastKnown.Store(&snap)
	}
}

// Forget drops the last known state; the next successful fetch dispatches.
func (p *Poller) Forget() {
	p.lastKnown.Store(nil)
}

// Poke requests an immediate poll. It is still subject to the rate limit.
func (p *Poller) Poke() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	p.seed(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.poke:
			timer.Stop()
		}
		start := time.Now()
		p.tick(ctx, start)
		timer.Reset(max(p.cfg.Interval-time.Since(start), p.untilToken(time.Now())))
	}
}

// untilToken is how long until the limiter allows the next write.
func (p *Poller) untilToken(now time.Time) time.Duration {
	missing := 1 - p.limiter.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing * float64(p.cfg.Interval))
}

// seed loads the stored value so a restart does not re-dispatch a document
// other consumers already have.
func (p *Poller) seed(ctx context.Context) {
	u, err := p.store.Read(ctx, p.id)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to read stored state")
		return
	}
	if u == nil {
		return
	}
	snap := u.Snapshot
	p.lastKnown.CompareAndSwap(nil, &snap)
}

func (p *Poller) tick(ctx context.Context, start time.Time) {
	if p.cfg.Paused() {
		return
	}
	if p.limiter.TokensAt(start) < 1 {
		p.logger.Trace().Msg("Tick skipped by rate limiter")
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	snap, err := p.fetcher.FetchSnapshot(fetchCtx, p.id)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("Fetch failed, skipping tick")
		}
		return
	}

	p.mu.Lock()
	if p.stopped.Load() || !model.HasChanges(&snap, p.lastKnown.Load()) {
		p.mu.Unlock()
		return
	}
	// The token is taken at write time. A slow fetch followed by a fast one
	// must not land two writes closer than the interval.
	if !p.limiter.AllowN(time.Now(), 1) {
		p.mu.Unlock()
		p.logger.Trace().Msg("Write deferred by rate limiter")
		return
	}
	update := model.NewStampedUpdate(snap, start, model.OriginPoll, p.cfg.Instance)
	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	applied, err := p.store.Write(writeCtx, p.id, update)
	cancel()
	switch {
	case err != nil && ctx.Err() != nil:
		p.mu.Unlock()
		return
	case err != nil:
		p.logger.Error().Err(err).Msg("Store write failed, notifying local listeners only")
	case !applied:
		p.mu.Unlock()
		p.logger.Debug().Int64("timestamp", update.Timestamp).Msg("Stored state is newer, dropping poll result")
		return
	}
	p.lastKnown.Store(&snap)
	p.mu.Unlock()

	if p.stopped.Load() {
		return
	}
	p.deliver(update)
}
