package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/platform/crypto"
	goredis "github.com/redis/go-redis/v9"
)

// TabStorage keeps one tab's keys in a Redis hash. Every write slides the hash TTL.
// Values are sealed when a crypto service is configured.
type TabStorage struct {
	rdb    goredis.Cmdable
	tabID  string
	ttl    time.Duration
	sealer crypto.Service
}

var _ domain.TabStorage = (*TabStorage)(nil)

// NewTabStorage creates storage for tabID. sealer may be nil to store values in the clear.
func NewTabStorage(rdb goredis.Cmdable, tabID string, ttl time.Duration, sealer crypto.Service) *TabStorage {
	return &TabStorage{rdb: rdb, tabID: tabID, ttl: ttl, sealer: sealer}
}

func (s *TabStorage) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := s.rdb.HGet(ctx, tabKey(s.tabID), key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis HGET %s failed: %w", key, err)
	}

	if s.sealer == nil {
		return raw, true, nil
	}
	value, err := s.sealer.Open(raw, s.sealContext(key))
	if err != nil {
		return "", false, fmt.Errorf("failed to open stored %s: %w", key, err)
	}
	return value, true, nil
}

func (s *TabStorage) Set(ctx context.Context, key, value string) error {
	stored := value
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(value, s.sealContext(key))
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		stored = sealed
	}

	hash := tabKey(s.tabID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, stored)
		pipe.Expire(ctx, hash, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET %s failed: %w", key, err)
	}
	return nil
}

func (s *TabStorage) Delete(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, tabKey(s.tabID), key).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s failed: %w", key, err)
	}
	return nil
}

func (s *TabStorage) sealContext(key string) string {
	return s.tabID + "/" + key
}

// TabExists reports whether Redis still holds storage for tabID.
func TabExists(ctx context.Context, rdb goredis.Cmdable, tabID string) (bool, error) {
	n, err := rdb.Exists(ctx, tabKey(tabID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func tabKey(tabID string) string {
	return "tab:" + tabID
}
