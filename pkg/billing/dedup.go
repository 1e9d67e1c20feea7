package billing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "billing:webhook:event:"

// RedisDeduper implements Deduper with one key per event id. The TTL only
// has to outlive the provider's redelivery window.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed webhook deduper.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// Seen reports whether the event id was already marked.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the event id as applied.
func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Err()
}
