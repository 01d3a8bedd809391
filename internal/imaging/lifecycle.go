// Package imaging owns the process-wide image engine and the tile encoders.
package imaging

import (
	"sync"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
)

type Config struct {
	Concurrency int
	MaxCacheMB  int
}

var (
	mu      sync.Mutex
	started bool
)

// Startup initializes libvips once for the whole process. Later calls are
// no-ops until Shutdown.
func Startup(cfg Config, log *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})
	started = true

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)
}

// Shutdown releases libvips. Encoders must not be used afterwards.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func Started() bool {
	mu.Lock()
	defer mu.Unlock()
	return started
}
