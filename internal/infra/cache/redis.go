package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// Connect создаёт клиента Redis и проверяет соединение.
func Connect(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш; prefix добавляется ко всем ключам.
func NewRedis(client redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// SeenBefore ставит отметку через SETNX и сообщает, стояла ли она раньше.
func (c *RedisCache) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, c.prefix+key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "dedup", start, err)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget снимает отметку, например если обработка завершилась ошибкой.
func (c *RedisCache) Forget(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.prefix+key).Err()
	metrics.ObserveNetworkRequest("redis", "del", "dedup", start, err)
	return err
}
