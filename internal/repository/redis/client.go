package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyspaceEvents enables keyspace-channel notifications for string commands
// (SET) and generic ones (DEL, EXPIRE). The live store watches these.
const keyspaceEvents = "K$g"

// Client wraps the Redis client for live match state.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client from a connection URL.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromPool wraps an existing redis.Client for use in tests.
func NewClientFromPool(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// EnableKeyspaceEvents turns on the notifications the live store relies on.
// Managed Redis offerings often forbid CONFIG SET; there the setting must be
// applied out of band.
func (c *Client) EnableKeyspaceEvents(ctx context.Context) error {
	if err := c.rdb.ConfigSet(ctx, "notify-keyspace-events", keyspaceEvents).Err(); err != nil {
		return fmt.Errorf("enable keyspace events: %w", err)
	}
	return nil
}
