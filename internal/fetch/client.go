// Package fetch retrieves live match documents from the match API over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/repository"
)

const maxBodySize = 4 << 20

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// RatePerSec caps requests across all matches. Zero or less means unlimited.
	RatePerSec float64
	Logger     zerolog.Logger
}

// Client fetches match snapshots. Each request carries the current
// credential as a bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      auth.CredentialSource
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a Client for the match API rooted at baseURL.
func NewClient(baseURL string, creds auth.CredentialSource, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = max(1, int(opts.RatePerSec))
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     opts.Logger.With().Str("component", "fetch").Logger(),
	}
}

// FetchSnapshot implements repository.SnapshotFetcher.
func (c *Client) FetchSnapshot(ctx context.Context, id model.ResourceID) (model.Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Snapshot{}, fmt.Errorf("rate limiter: %w", err)
	}

	token, err := c.creds.Credential(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("credential: %w", err)
	}

	u := c.baseURL + "/api/matches/" + url.PathEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("fetch match %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("read match %s: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.Snapshot{}, repository.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return model.Snapshot{}, repository.ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.Snapshot{}, fmt.Errorf("fetch match %s: unexpected status %d", id, resp.StatusCode)
	}

	snap, err := model.DecodeSnapshot(body)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("decode match %s: %w", id, err)
	}
	c.logger.Trace().Str("matchId", string(id)).Int("bytes", len(body)).Msg("Fetched snapshot")
	return snap, nil
}

var _ repository.SnapshotFetcher = (*Client)(nil)
