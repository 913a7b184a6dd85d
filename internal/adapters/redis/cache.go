package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// MarkPaymentRef records a processed gateway payment reference and reports
// whether this call was the first to see it. This is a fast-path dedupe for
// replayed webhooks; the tracker's conditional update stays authoritative.
func (c *Cache) MarkPaymentRef(ctx context.Context, ref string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "payref:"+ref, "1", ttl)
	return res.Val(), res.Err()
}

// SeenPaymentRef reports whether the reference was already marked processed.
func (c *Cache) SeenPaymentRef(ctx context.Context, ref string) (bool, error) {
	n, err := c.client.Exists(ctx, "payref:"+ref).Result()
	return n > 0, err
}

// SetSnapshot caches an analytics snapshot payload.
func (c *Cache) SetSnapshot(ctx context.Context, eventID string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, "snapshot:"+eventID, payload, ttl).Err()
}

// GetSnapshot returns a cached snapshot payload, or nil on a miss.
func (c *Cache) GetSnapshot(ctx context.Context, eventID string) ([]byte, error) {
	val, err := c.client.Get(ctx, "snapshot:"+eventID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}
