package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQuotaTracker tracks monthly provider spend in Redis, keyed by
// calendar month so counters reset naturally without a cron job.
type RedisQuotaTracker struct {
	rdb  *redis.Client
	caps map[string]float64 // provider -> monthly cap USD
	now  func() time.Time
}

func NewRedisQuotaTracker(rdb *redis.Client, caps map[string]float64) *RedisQuotaTracker {
	return &RedisQuotaTracker{rdb: rdb, caps: caps, now: time.Now}
}

func (q *RedisQuotaTracker) monthKey(provider string) string {
	return fmt.Sprintf("llm:quota:%s:%s", provider, q.now().UTC().Format("2006-01"))
}

func (q *RedisQuotaTracker) FractionUsed(ctx context.Context, provider string) (float64, error) {
	cap, ok := q.caps[provider]
	if !ok || cap <= 0 {
		return 0, nil
	}
	raw, err := q.rdb.Get(ctx, q.monthKey(provider)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return raw / cap, nil
}

func (q *RedisQuotaTracker) RecordSpend(ctx context.Context, provider string, costUSD float64) error {
	key := q.monthKey(provider)
	if err := q.rdb.IncrByFloat(ctx, key, costUSD).Err(); err != nil {
		return err
	}
	return q.rdb.Expire(ctx, key, 32*24*time.Hour).Err()
}
