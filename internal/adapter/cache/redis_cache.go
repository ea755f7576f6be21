package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// RedisCache keeps JSON snapshots of orders under order:<id>.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

const setAttempts = 3

func orderKey(id string) string { return "order:" + id }

func (r *RedisCache) Get(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	raw, err := r.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		// unreadable snapshot, treat as a miss and drop it
		_ = r.rdb.Del(ctx, orderKey(orderID)).Err()
		return nil, false, nil
	}
	return &o, true, nil
}

// Set stores o unless the cache already holds a snapshot with a later
// UpdatedAt. The check and the write run under WATCH, so a reader that
// loaded the order before a status change cannot put the old state back.
func (r *RedisCache) Set(ctx context.Context, o *domain.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := orderKey(o.ID)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached domain.Order
			if json.Unmarshal(cur, &cached) == nil && cached.UpdatedAt.After(o.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < setAttempts; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *RedisCache) Invalidate(ctx context.Context, orderID string) error {
	return r.rdb.Del(ctx, orderKey(orderID)).Err()
}

var _ usecase.OrderCache = (*RedisCache)(nil)
