package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupTTL    = 24 * time.Hour
	defaultDedupPrefix = "relay:wamid:"
)

// Deduper claims inbound message ids so redelivered webhooks are answered once.
type Deduper interface {
	// Claim returns true if id was not seen before and is now owned by the caller.
	Claim(ctx context.Context, id string) (bool, error)
	// Release drops a claim so a later redelivery is processed again.
	Release(ctx context.Context, id string) error
}

// RedisDeduper implements Deduper with SET NX keys that expire after ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("relay: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: defaultDedupPrefix}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, d.prefix+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("relay: claim message %s: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("relay: release message %s: %w", id, err)
	}
	return nil
}
