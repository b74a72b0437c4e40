package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores completions keyed by (model, canonical(messages), params),
// backed by Redis (grounded in the teacher's
// orchestration/redis_llm_debug_store.go use of Redis for ancillary,
// non-authoritative state).
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key computes the canonical cache key. Canonicalization marshals messages
// and params through encoding/json (stable field order from struct tags)
// and hashes the result so the key stays bounded regardless of prompt size.
func Key(model string, messages []Message, params Params) (string, error) {
	canonical := struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Params   Params    `json:"params"`
	}{Model: model, Messages: messages, Params: params}

	buf, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return "llm:cache:" + hex.EncodeToString(sum[:]), nil
}

func (c *Cache) Get(ctx context.Context, key string) (*Completion, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var comp Completion
	if err := json.Unmarshal(raw, &comp); err != nil {
		return nil, false, fmt.Errorf("decode cached completion: %w", err)
	}
	comp.Cached = true
	return &comp, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, comp *Completion) error {
	buf, err := json.Marshal(comp)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, buf, c.ttl).Err()
}
