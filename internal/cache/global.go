package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/examstats/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stats:global:"

// GlobalCache keeps the latest global aggregate in redis as JSON.
type GlobalCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGlobalCache(client *redis.Client, ttl time.Duration) *GlobalCache {
	return &GlobalCache{client: client, ttl: ttl}
}

func key(aggregateType string) string {
	return keyPrefix + aggregateType
}

// Get returns the cached row. ok is false on a miss.
func (c *GlobalCache) Get(ctx context.Context, aggregateType string) (*models.GlobalAggregate, bool, error) {
	data, err := c.client.Get(ctx, key(aggregateType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var g models.GlobalAggregate
	if err := json.Unmarshal(data, &g); err != nil {
		// A row we cannot decode is treated as a miss and overwritten later.
		return nil, false, nil
	}
	return &g, true, nil
}

// Set replaces the cached row unless a newer version is already cached.
func (c *GlobalCache) Set(ctx context.Context, g *models.GlobalAggregate) error {
	if cur, ok, err := c.Get(ctx, g.AggregateType); err == nil && ok && cur.Version > g.Version {
		return nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode global aggregate: %w", err)
	}
	if err := c.client.Set(ctx, key(g.AggregateType), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *GlobalCache) Invalidate(ctx context.Context, aggregateType string) error {
	return c.client.Del(ctx, key(aggregateType)).Err()
}
