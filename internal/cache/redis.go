package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/repairdesk/backend/internal/models"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// New returns a NopCache when url is empty.
func New(ctx context.Context, url string, ttl time.Duration) (SummaryCache, func() error, error) {
	if url == "" {
		return NopCache{}, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return NewRedisCache(rdb, ttl), rdb.Close, nil
}

func (c *RedisCache) Get(ctx context.Context, technicianID string, period models.Period) (models.TechnicianSummary, bool, error) {
	b, err := c.rdb.Get(ctx, summaryKey(technicianID, period)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TechnicianSummary{}, false, nil
	}
	if err != nil {
		return models.TechnicianSummary{}, false, err
	}
	var s models.TechnicianSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return models.TechnicianSummary{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, technicianID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey(technicianID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set writes under WATCH of the generation key. A stale generation or a
// concurrent invalidation leaves the cache untouched.
func (c *RedisCache) Set(ctx context.Context, summary models.TechnicianSummary, period models.Period, generation int64) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	key := summaryKey(summary.TechnicianID, period)
	idx := indexKey(summary.TechnicianID)
	genKey := generationKey(summary.TechnicianID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, c.ttl)
			pipe.SAdd(ctx, idx, key)
			pipe.Expire(ctx, idx, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateTechnician bumps the generation before deleting, so in-flight
// Set calls holding the old generation are discarded.
func (c *RedisCache) InvalidateTechnician(ctx context.Context, technicianID string) error {
	if err := c.rdb.Incr(ctx, generationKey(technicianID)).Err(); err != nil {
		return err
	}
	idx := indexKey(technicianID)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, idx)
	return c.rdb.Del(ctx, keys...).Err()
}
