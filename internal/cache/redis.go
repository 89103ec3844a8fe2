// Package cache keeps short-lived copies of listing responses in Redis so
// repeated invocations and kiosk screens sharing a Redis do not refetch the
// same page.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListPrefix namespaces every cached listing page.
const ListPrefix = "events:list:"

const scanBatch = 100

type Client struct {
	rdb *redis.Client
}

// Dial connects to url (redis://host:port/db) and fails unless the server
// answers a PING within two seconds.
func Dial(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Redis exposes the connection for other stores sharing it.
func (c *Client) Redis() *redis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

// Get decodes the JSON value at key into dest. A miss is (false, nil). An
// entry that no longer decodes is dropped and reported as a miss with an
// error.
func (c *Client) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		_ = c.rdb.Del(ctx, key).Err()
		return false, fmt.Errorf("cache entry %s dropped: %w", key, err)
	}
	return true, nil
}

// Set stores val as JSON. A zero ttl keeps the entry until purged.
func (c *Client) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// InvalidateListings unlinks every cached listing page and reports how many
// were removed. Called after a local mutation so the next list reflects it.
func (c *Client) InvalidateListings(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, ListPrefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scan listings: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			removed += int(n)
			if err != nil {
				return removed, fmt.Errorf("unlink listings: %w", err)
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
