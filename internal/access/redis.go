package access

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisChecker reads room access lists from Redis. Each room's list is a
// hash of user id to role under "room:<id>:acl". A room without a list is
// open: every user joins it as an editor.
type RedisChecker struct {
	client *redis.Client
	prefix string
}

// NewRedisChecker connects to redisURL and verifies the connection.
func NewRedisChecker(redisURL string) (*RedisChecker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCheckerWithClient(client), nil
}

func NewRedisCheckerWithClient(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client, prefix: "room:"}
}

func (c *RedisChecker) key(roomID string) string {
	return c.prefix + roomID + ":acl"
}

func (c *RedisChecker) HasAccess(ctx context.Context, roomID, userID string) (Decision, error) {
	key := c.key(roomID)
	role, err := c.client.HGet(ctx, key, userID).Result()
	if err == nil {
		return Decision{HasAccess: true, Role: Normalize(role)}, nil
	}
	if err != redis.Nil {
		return Decision{}, fmt.Errorf("lookup access for %s in %s: %w", userID, roomID, err)
	}

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("lookup access list for %s: %w", roomID, err)
	}
	if n == 0 {
		return Decision{HasAccess: true, Role: RoleEditor}, nil
	}
	return Decision{HasAccess: false}, nil
}

// Grant sets userID's role in roomID, creating the access list if needed.
func (c *RedisChecker) Grant(ctx context.Context, roomID, userID string, role Role) error {
	if err := c.client.HSet(ctx, c.key(roomID), userID, string(role)).Err(); err != nil {
		return fmt.Errorf("grant %s on %s: %w", userID, roomID, err)
	}
	return nil
}

func (c *RedisChecker) Revoke(ctx context.Context, roomID, userID string) error {
	if err := c.client.HDel(ctx, c.key(roomID), userID).Err(); err != nil {
		return fmt.Errorf("revoke %s on %s: %w", userID, roomID, err)
	}
	return nil
}

func (c *RedisChecker) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChecker) Close() error {
	return c.client.Close()
}
