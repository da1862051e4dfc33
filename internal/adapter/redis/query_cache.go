package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// QueryCacheBackend is the shared query cache layer: one hash per tab, dropped as a whole on Clear.
type QueryCacheBackend struct {
	rdb goredis.Cmdable
}

func NewQueryCacheBackend(rdb goredis.Cmdable) *QueryCacheBackend {
	return &QueryCacheBackend{rdb: rdb}
}

func (b *QueryCacheBackend) Get(ctx context.Context, tabID, key string) ([]byte, bool, error) {
	data, err := b.rdb.HGet(ctx, queryCacheKey(tabID), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache GET failed: %w", err)
	}
	return data, true, nil
}

// Set writes key and resets the hash TTL. The TTL applies to the tab's whole cache.
func (b *QueryCacheBackend) Set(ctx context.Context, tabID, key string, value []byte, ttl time.Duration) error {
	hash := queryCacheKey(tabID)
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, value)
		pipe.Expire(ctx, hash, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("query cache SET failed: %w", err)
	}
	return nil
}

func (b *QueryCacheBackend) Delete(ctx context.Context, tabID, key string) error {
	if err := b.rdb.HDel(ctx, queryCacheKey(tabID), key).Err(); err != nil {
		return fmt.Errorf("query cache DELETE failed: %w", err)
	}
	return nil
}

func (b *QueryCacheBackend) Clear(ctx context.Context, tabID string) error {
	if err := b.rdb.Del(ctx, queryCacheKey(tabID)).Err(); err != nil {
		return fmt.Errorf("query cache CLEAR failed: %w", err)
	}
	return nil
}

func queryCacheKey(tabID string) string {
	return "query_cache:" + tabID
}
