package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from a connection URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// ContextCache is a short-lived JSON cache used to avoid recomputing the
// system context snapshot between closely spaced decision cycles.
type ContextCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewContextCache creates a cache with the given TTL.
func NewContextCache(client *redis.Client, ttl time.Duration) *ContextCache {
	return &ContextCache{client: client, ttl: ttl}
}

// Get unmarshals the cached value under key into dest. Returns false if the
// key is absent or expired; cache errors are reported as misses with the
// underlying error for logging.
func (c *ContextCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals value and stores it under key with the cache TTL.
func (c *ContextCache) Set(ctx context.Context, key string, value any) error {
	if c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// StreamPublisher publishes engine events to a Redis Stream so downstream
// surfaces can react without polling.
type StreamPublisher struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
}

// NewStreamPublisher creates a publisher for the given stream.
func NewStreamPublisher(client *redis.Client, streamKey string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, streamKey: streamKey, maxLen: maxLen}
}

// Publish appends one event to the stream. The payload is JSON-encoded.
func (p *StreamPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	if p.client == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamKey,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": eventType,
			"source":     "recommendation-engine",
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"payload":    string(raw),
		},
	}).Err()
}
