package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlocklistKeyPrefix namespaces mirrored blocks in Redis.
const BlocklistKeyPrefix = "tripwire:blocked:"

// BlocklistCache mirrors active blocks into Redis so edge filters can check
// an IP with a single GET. Keys expire together with the block.
type BlocklistCache struct {
	client *redis.Client
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewBlocklistCache creates a new BlocklistCache
func NewBlocklistCache(client *redis.Client) *BlocklistCache {
	return &BlocklistCache{client: client}
}

// MirrorBlock stores reason under the IP key for ttl
func (c *BlocklistCache) MirrorBlock(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, BlocklistKeyPrefix+ip, reason, ttl).Err()
}
