// Package eventbus publishes domain events to Redis Streams or Google Pub/Sub.
package eventbus

import (
	"context"
	"time"

	"payroll-bnpl/internal/domain/gateway"

	"github.com/redis/go-redis/v9"
)

var _ gateway.EventBus = (*RedisStream)(nil)

// RedisStream appends each event to a capped stream.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(rdb *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = "bnpl.events"
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisStream{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (b *RedisStream) Publish(ctx context.Context, ev gateway.Event) error {
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":           ev.ID,
			"type":         ev.Type,
			"aggregate_id": ev.AggregateID,
			"payload":      string(ev.Payload),
			"occurred_at":  ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
