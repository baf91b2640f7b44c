// Package cache provides an optional Redis-backed cache of each project's
// head revision. The artifact store remains the source of truth; the cache
// only short-circuits drift checks on the read path and is invalidated on
// every commit.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RevisionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRevisionCache connects to Redis and verifies the connection.
func NewRevisionCache(redisURL string) (*RevisionCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRevisionCacheWithClient(client), nil
}

// NewRevisionCacheWithClient wraps an existing client. Tests use this with
// miniredis.
func NewRevisionCacheWithClient(client *redis.Client) *RevisionCache {
	return &RevisionCache{
		client: client,
		prefix: "head:",
		ttl:    10 * time.Minute,
	}
}

func (c *RevisionCache) key(projectKey string) string {
	return c.prefix + projectKey
}

// Head returns the cached head revision, or ok=false on a miss. Errors are
// returned so the caller can fall through to the artifact store.
func (c *RevisionCache) Head(ctx context.Context, projectKey string) (string, bool, error) {
	revision, err := c.client.Get(ctx, c.key(projectKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached head: %w", err)
	}
	return revision, true, nil
}

// SetHead records the head revision after a successful commit.
func (c *RevisionCache) SetHead(ctx context.Context, projectKey, revision string) error {
	if err := c.client.Set(ctx, c.key(projectKey), revision, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached head: %w", err)
	}
	return nil
}

// Invalidate drops the cached head, forcing the next reader to the store.
func (c *RevisionCache) Invalidate(ctx context.Context, projectKey string) error {
	if err := c.client.Del(ctx, c.key(projectKey)).Err(); err != nil {
		return fmt.Errorf("invalidate cached head: %w", err)
	}
	return nil
}

func (c *RevisionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RevisionCache) Close() error {
	return c.client.Close()
}
