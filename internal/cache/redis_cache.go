package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisLikeCache struct {
	client *redis.Client
	prefix string
}

func NewRedisLikeCache(client *redis.Client, prefix string) *RedisLikeCache {
	return &RedisLikeCache{client: client, prefix: prefix}
}

// BuildKey returns the set key, e.g. "blog:like:article:{userID}".
func (c *RedisLikeCache) BuildKey(kind, userID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, userID)
}

func (c *RedisLikeCache) Liked(ctx context.Context, kind, userID string) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.BuildKey(kind, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read like set: %w", err)
	}
	return ids, nil
}
