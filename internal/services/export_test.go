package services

import (
	"context"
	"time"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

func NewRedisWithClient(client RedisClient, prefix string) Redis {
	return newRedis(client, prefix)
}

func (p Prompts) SystemFor(opts models.Options) string {
	return p.system(opts)
}

func (m Models) Pick(q models.Quality) string {
	return m.pick(q)
}
