package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisCache shares vector payloads between server instances.
// Failures degrade to cache misses and are logged.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisCache(cfg RedisConfig, log *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisCache(client, cfg, log), nil
}

func newRedisCache(client *redis.Client, cfg RedisConfig, log *zap.Logger) *RedisCache {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "vtile"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, prefix: prefix, logger: log}
}

func (c *RedisCache) keyFor(k TileKey) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d", c.prefix, k.Source, k.Z, k.X, k.Y)
}

func (c *RedisCache) Get(key TileKey) ([]byte, bool) {
	data, err := c.client.Get(context.Background(), c.keyFor(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.String("key", c.keyFor(key)), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(key TileKey, value []byte) {
	if err := c.client.Set(context.Background(), c.keyFor(key), value, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", c.keyFor(key)), zap.Error(err))
	}
}

// Clear removes this cache's keys only; other data in the database is kept.
func (c *RedisCache) Clear() {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 256).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("redis del failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis scan failed", zap.Error(err))
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
