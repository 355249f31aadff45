package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
)

const populateChunkSize = 1000

// Cache is the Redis fast path: per-tier sets of available numbers, short
// lived response snapshots and request counters. Every method tolerates a
// missing or unreachable Redis and degrades to a miss; the durable store
// stays the single source of truth.
type Cache struct {
	Client *redis.Client
	Logger *logger.Logger
}

func New(client *redis.Client, log *logger.Logger) *Cache {
	return &Cache{Client: client, Logger: log}
}

func (c *Cache) available() bool {
	return c != nil && c.Client != nil
}

func (c *Cache) warn(op string, err error) {
	if c.Logger != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("%s failed, degrading to store: %v", op, err))
	}
}

// PopAvailable atomically removes and returns one available number of the
// tier. Returns "" on empty set or any Redis failure.
func (c *Cache) PopAvailable(ctx context.Context, tier models.Tier) string {
	if !c.available() {
		return ""
	}
	number, err := c.Client.SPop(ctx, tier.SetKey()).Result()
	if err == redis.Nil {
		return ""
	}
	if err != nil {
		c.warn("SPOP "+tier.SetKey(), err)
		return ""
	}
	return number
}

// AddAvailable returns numbers to the tier's set, e.g. after a release.
func (c *Cache) AddAvailable(ctx context.Context, tier models.Tier, numbers ...string) {
	if !c.available() || len(numbers) == 0 {
		return
	}
	members := make([]interface{}, len(numbers))
	for i, n := range numbers {
		members[i] = n
	}
	if err := c.Client.SAdd(ctx, tier.SetKey(), members...).Err(); err != nil {
		c.warn("SADD "+tier.SetKey(), err)
	}
}

// PopulateTier loads a tier's full number list in chunks, used at bootstrap.
func (c *Cache) PopulateTier(ctx context.Context, tier models.Tier, numbers []string) error {
	if !c.available() {
		return nil
	}
	for i := 0; i < len(numbers); i += populateChunkSize {
		end := i + populateChunkSize
		if end > len(numbers) {
			end = len(numbers)
		}
		chunk := numbers[i:end]
		members := make([]interface{}, len(chunk))
		for j, n := range chunk {
			members[j] = n
		}
		if err := c.Client.SAdd(ctx, tier.SetKey(), members...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// GetSnapshot returns a cached response body, or nil on miss/failure.
func (c *Cache) GetSnapshot(ctx context.Context, key string) []byte {
	if !c.available() {
		return nil
	}
	data, err := c.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.warn("GET "+key, err)
		return nil
	}
	return data
}

func (c *Cache) SetSnapshot(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.available() {
		return
	}
	if err := c.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.warn("SET "+key, err)
	}
}

// IncrRequestCount bumps a per-client counter with a rolling window, used
// by the rate limiter. Counters live in Redis so limits hold across
// instances. Returns 0 (allow) when Redis is down.
func (c *Cache) IncrRequestCount(ctx context.Context, clientKey string, window time.Duration) int64 {
	if !c.available() {
		return 0
	}
	key := "ratelimit:" + clientKey
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		c.warn("INCR "+key, err)
		return 0
	}
	if count == 1 {
		if err := c.Client.Expire(ctx, key, window).Err(); err != nil {
			c.warn("EXPIRE "+key, err)
		}
	}
	return count
}
