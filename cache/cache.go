// Package cache provides the redis-backed audio cache. Encoded synthesis
// output is keyed by a digest of the request parameters so identical
// requests are served without touching a provider.
//
// The cache degrades gracefully: when redis is unreachable every operation
// becomes a logged no-op and synthesis proceeds uncached. Cache errors are
// never surfaced to callers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akumar23/tts-webapp/logger"
)

const (
	// keyPrefix namespaces audio entries in a shared redis.
	keyPrefix = "tts:audio:"

	// defaultTTL is the entry lifetime when none is configured.
	defaultTTL = time.Hour

	// opTimeout bounds each redis round-trip so a hung redis cannot
	// stall a synthesis request.
	opTimeout = 2 * time.Second

	// scanBatch is the SCAN page size used by ClearAll.
	scanBatch = 100
)

// Stats is a point-in-time cache summary for the health surface.
type Stats struct {
	Connected  bool   `json:"connected"`
	Items      int64  `json:"items"`
	MemoryUsed string `json:"memory_used,omitempty"`
}

// AudioCache stores encoded audio in redis with TTL-based expiry.
type AudioCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures an AudioCache.
type Option func(*AudioCache)

// WithTTL sets the entry time-to-live. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *AudioCache) { c.ttl = ttl }
}

// WithClient substitutes the redis client (for tests).
func WithClient(client *redis.Client) Option {
	return func(c *AudioCache) { c.client = client }
}

// New creates an AudioCache from a redis URL
// (redis://host:port/db). The connection is established lazily; a redis
// that is down at startup only disables caching, never startup.
func New(redisURL string, opts ...Option) (*AudioCache, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	c := &AudioCache{
		client: redis.NewClient(redisOpts),
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key derives the cache key for a synthesis request. The digest covers every
// parameter that changes the encoded output.
func Key(text, provider, voice string, speed float64, format string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%g:%s", text, provider, voice, speed, format))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached audio for key, or false on miss or redis failure.
func (c *AudioCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("cache get failed", "error", err)
		}
		return nil, false
	}

	logger.Debug("cache hit", "key", key, "bytes", len(data))
	return data, true
}

// Set stores audio under key with the configured TTL. Failures are logged
// and swallowed.
func (c *AudioCache) Set(ctx context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warn("cache set failed", "error", err)
		return
	}
	logger.Debug("cache store", "key", key, "bytes", len(data), "ttl", c.ttl)
}

// Delete removes one entry. Failures are logged and swallowed.
func (c *AudioCache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("cache delete failed", "error", err)
	}
}

// ClearAll removes every audio entry using SCAN so a large cache does not
// block redis the way KEYS would. It returns the number of entries removed.
func (c *AudioCache) ClearAll(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	logger.Info("cache cleared", "removed", removed)
	return removed, nil
}

// Stats reports connectivity and entry count. A failed PING yields a
// disconnected result rather than an error.
func (c *AudioCache) Stats(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return Stats{Connected: false}
	}

	stats := Stats{Connected: true}

	var count int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if iter.Err() == nil {
		stats.Items = count
	}

	if mem, err := c.client.Info(ctx, "memory").Result(); err == nil {
		stats.MemoryUsed = parseUsedMemoryHuman(mem)
	}

	return stats
}

// Close releases the redis connection pool.
func (c *AudioCache) Close() error {
	return c.client.Close()
}

// parseUsedMemoryHuman extracts used_memory_human from INFO memory output.
func parseUsedMemoryHuman(info string) string {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
