package cache

import (
	"fmt"

	"go.uber.org/zap"
)

type Options struct {
	Type        string
	FileDir     string
	MemoryTiles int
	Redis       RedisConfig
}

// NewCache creates a cache instance based on the cache type
func NewCache(opts Options, log *zap.Logger) (Cache, error) {
	switch opts.Type {
	case "memory":
		log.Info("Using memory vector cache", zap.Int("max_tiles", opts.MemoryTiles))
		return NewMemoryCache(opts.MemoryTiles), nil
	case "file":
		log.Info("Using file vector cache", zap.String("cache_dir", opts.FileDir))
		return NewFileCache(opts.FileDir)
	case "redis":
		log.Info("Using redis vector cache", zap.String("addr", opts.Redis.Addr), zap.Duration("ttl", opts.Redis.TTL))
		return NewRedisCache(opts.Redis, log)
	case "disabled", "":
		log.Info("Vector cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, file, redis, disabled)", opts.Type)
	}
}
