// Package redis holds the Redis-backed tab credential storage, query cache layer and
// cross-process query invalidation.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/tabconsole/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

var connectPolicy = retry.Policy{
	Attempts:   5,
	Backoff:    200 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
	OnRetry: func(attempt int, err error, wait time.Duration) {
		slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "wait", wait, "error", err)
	},
}

// NewClient parses redisURL and waits until the server answers PING.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	err = retry.Do(ctx, connectPolicy, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// HealthCheck pings Redis. Registered as a readiness check.
func HealthCheck(rdb goredis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}
}
