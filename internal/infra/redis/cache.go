package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "respcache:"

// CachedResponse is a stored GET response served when the network fails and
// refreshed in the background on cache hits.
type CachedResponse struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
}

// ResponseCache stores last-known GET responses keyed by request path+query.
type ResponseCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewResponseCache(client *goredis.Client, ttl time.Duration) (*ResponseCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &ResponseCache{client: client, ttl: ttl}, nil
}

func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("response cache is not initialized")
	}

	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = c.client.Del(ctx, cacheKey(key)).Err()
		return nil, false, nil
	}

	return &cached, true, nil
}

func (c *ResponseCache) Put(ctx context.Context, key string, resp CachedResponse) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("response cache is not initialized")
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode cached response: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func cacheKey(key string) string {
	return cacheKeyPrefix + strings.TrimSpace(key)
}
