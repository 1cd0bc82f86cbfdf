// Package cache keeps successful publish outcomes in Redis so repeated
// requests with the same idempotency key are answered without a database
// round trip.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "publish:replay:"

// Entry is the cached outcome of a successful publish.
type Entry struct {
	Destination string    `json:"destination"`
	RecordID    string    `json:"record_id"`
	JobID       string    `json:"job_id"`
	ExternalURL string    `json:"external_url"`
	PlatformID  string    `json:"platform_id"`
	Attempt     int       `json:"attempt"`
	CachedAt    time.Time `json:"cached_at"`
}

// ReplayCache wraps a Redis client for publish outcome replay
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplayCache connects to Redis at addr and verifies the connection.
func NewReplayCache(addr, password string, ttl time.Duration) (*ReplayCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr, "replay_ttl", ttl)
	return NewReplayCacheWithClient(client, ttl), nil
}

// NewReplayCacheWithClient wraps an existing client without pinging it
func NewReplayCacheWithClient(client *redis.Client, ttl time.Duration) *ReplayCache {
	return &ReplayCache{client: client, ttl: ttl}
}

func Key(idempotencyKey string) string {
	return keyPrefix + idempotencyKey
}

// Get returns the cached entry for idempotencyKey. A miss is (nil, false, nil).
func (c *ReplayCache) Get(ctx context.Context, idempotencyKey string) (*Entry, bool, error) {
	key := Key(idempotencyKey)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores a successful outcome for the cache TTL
func (c *ReplayCache) Put(ctx context.Context, idempotencyKey string, entry Entry) error {
	key := Key(idempotencyKey)
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *ReplayCache) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}
	return health
}

func (c *ReplayCache) Close() error {
	return c.client.Close()
}
