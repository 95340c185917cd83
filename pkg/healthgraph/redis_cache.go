package healthgraph

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlastCache backs BlastCache with a shared Redis hash so a fleet
// of Health Graph instances agree on one memoized blast_radius per
// node, rather than each instance recomputing and caching in isolation.
type RedisBlastCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisBlastCache builds a cache over a single Redis hash named key
// (default "grace:healthgraph:blast_radius" when empty). Entries expire
// after ttl if set, so a long-idle fleet member never serves a radius
// computed before an edge change it missed.
func NewRedisBlastCache(client *redis.Client, key string, ttl time.Duration) *RedisBlastCache {
	if key == "" {
		key = "grace:healthgraph:blast_radius"
	}
	return &RedisBlastCache{client: client, key: key, ttl: ttl}
}

func (c *RedisBlastCache) Get(nodeID string) (int, bool) {
	ctx := context.Background()
	v, err := c.client.HGet(ctx, c.key, nodeID).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *RedisBlastCache) Set(nodeID string, radius int) {
	ctx := context.Background()
	_ = c.client.HSet(ctx, c.key, nodeID, radius).Err()
	if c.ttl > 0 {
		_ = c.client.Expire(ctx, c.key, c.ttl).Err()
	}
}

func (c *RedisBlastCache) Invalidate(nodeID string) {
	_ = c.client.HDel(context.Background(), c.key, nodeID).Err()
}

func (c *RedisBlastCache) InvalidateAll() {
	_ = c.client.Del(context.Background(), c.key).Err()
}
