package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQuota enforces a sliding-window request quota per domain using a
// Redis sorted set keyed by request timestamp: ZREMRANGEBYSCORE prunes
// entries older than the window, ZCARD counts the rest, and ZADD records
// the request when it is admitted.
type RedisQuota struct {
	client *redis.Client
	window time.Duration
	limit  int64
}

// NewRedisQuota builds a quota checker allowing up to limit requests
// per domain within window.
func NewRedisQuota(client *redis.Client, window time.Duration, limit int64) *RedisQuota {
	return &RedisQuota{client: client, window: window, limit: limit}
}

func (q *RedisQuota) Allow(ctx context.Context, domain string, now time.Time) (bool, error) {
	key := fmt.Sprintf("grace:memory:quota:%s", domain)
	cutoff := now.Add(-q.window).UnixNano()

	pipe := q.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("memory: redis quota pipeline: %w", err)
	}
	if card.Val() >= q.limit {
		return false, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	if err := q.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return false, fmt.Errorf("memory: redis quota zadd: %w", err)
	}
	_ = q.client.Expire(ctx, key, q.window)
	return true, nil
}

// InMemoryQuota is the test/dev QuotaChecker: a per-domain timestamp
// slice pruned on each check, functionally identical to RedisQuota's
// sliding window without the network hop.
type InMemoryQuota struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
}

// NewInMemoryQuota builds a quota checker allowing up to limit requests
// per domain within window.
func NewInMemoryQuota(window time.Duration, limit int) *InMemoryQuota {
	return &InMemoryQuota{window: window, limit: limit, hits: make(map[string][]time.Time)}
}

func (q *InMemoryQuota) Allow(_ context.Context, domain string, now time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.window)
	kept := q.hits[domain][:0]
	for _, t := range q.hits[domain] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= q.limit {
		q.hits[domain] = kept
		return false, nil
	}
	q.hits[domain] = append(kept, now)
	return true, nil
}
