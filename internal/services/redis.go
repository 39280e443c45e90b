package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements the conversation.Store interface on top of a Redis server. Keys are namespaced
// with a prefix so several instances can share one database.
type Redis struct {
	client redisKV
	closer io.Closer
	prefix string
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedis creates a Redis store connected to addr.
func NewRedis(addr, password string, db int, prefix string) Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	r := newRedis(client, prefix)
	r.closer = client
	return r
}

func newRedis(client redisKV, prefix string) Redis {
	return Redis{client: client, prefix: prefix}
}

// Get returns the value stored under key. The second return value is false if the key doesn't
// exist.
func (r Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key without expiration.
func (r Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool of a Redis created with NewRedis.
func (r Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
