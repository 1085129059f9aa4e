// Package redis provides a thin wrapper around go-redis/v9 with connection
// pooling and pipelined set-membership operations used by the grid index.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// AddToSets adds member to every set in keys using a single pipeline.
func (c *Client) AddToSets(ctx context.Context, keys []string, member string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.SAdd(ctx, key, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipelined sadd of %d keys: %w", len(keys), err)
	}
	return nil
}

// RemoveFromSets removes member from every set in keys using a single pipeline.
func (c *Client) RemoveFromSets(ctx context.Context, keys []string, member string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.SRem(ctx, key, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipelined srem of %d keys: %w", len(keys), err)
	}
	return nil
}

// Members fetches several sets in one pipeline. Missing keys map to an empty
// slice.
func (c *Client) Members(ctx context.Context, keys []string) (map[string][]string, error) {
	out := make(map[string][]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.SMembers(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipelined smembers of %d keys: %w", len(keys), err)
	}
	for i, cmd := range cmds {
		out[keys[i]] = cmd.Val()
	}
	return out, nil
}

// Union returns the SUNION of keys.
func (c *Client) Union(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	members, err := c.rdb.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("sunion of %d keys: %w", len(keys), err)
	}
	return members, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
