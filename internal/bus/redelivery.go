package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redeliveryKey = "bus:redelivery"

// RedisRedelivery holds retry-status event IDs in a redis sorted set
// scored by their redelivery deadline.
type RedisRedelivery struct {
	client *redis.Client
}

// NewRedisRedelivery builds a redelivery scheduler on an existing client.
func NewRedisRedelivery(client *redis.Client) *RedisRedelivery {
	return &RedisRedelivery{client: client}
}

// Schedule records the event for promotion at the given time.
func (r *RedisRedelivery) Schedule(ctx context.Context, eventID string, at time.Time) error {
	return r.client.ZAdd(ctx, redeliveryKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: eventID,
	}).Err()
}

// Due pops event IDs whose redelivery deadline has passed.
func (r *RedisRedelivery) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, redeliveryKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, redeliveryKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth reports how many events await redelivery.
func (r *RedisRedelivery) Depth(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, redeliveryKey).Result()
}
