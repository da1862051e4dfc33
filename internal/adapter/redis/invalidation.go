package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

const queryInvalidationChannel = "query_cache:invalidate"

// QueryInvalidation fans a query key out to every console process so that all tabs drop it,
// e.g. the user list after an admin suspends someone.
type QueryInvalidation struct {
	rdb *goredis.Client
}

func NewQueryInvalidation(rdb *goredis.Client) *QueryInvalidation {
	return &QueryInvalidation{rdb: rdb}
}

func (q *QueryInvalidation) Publish(ctx context.Context, key string) error {
	if err := q.rdb.Publish(ctx, queryInvalidationChannel, key).Err(); err != nil {
		return fmt.Errorf("failed to publish query invalidation: %w", err)
	}
	return nil
}

// Run delivers every published key to handle until ctx is done. ready, if non-nil, is closed
// once the subscription is active.
func (q *QueryInvalidation) Run(ctx context.Context, handle func(ctx context.Context, key string), ready chan<- struct{}) error {
	pubsub := q.rdb.Subscribe(ctx, queryInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to query invalidations: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == "" {
				slog.Warn("Empty query invalidation message")
				continue
			}
			handle(ctx, msg.Payload)
			slog.Debug("Query invalidated via pub/sub", "key", msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}
