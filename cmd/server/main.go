package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vtileraster/internal/cache"
	"vtileraster/internal/config"
	httphandlers "vtileraster/internal/http"
	"vtileraster/internal/imaging"
	"vtileraster/internal/logger"
	"vtileraster/internal/render"
	"vtileraster/internal/telemetry"
	"vtileraster/internal/tileservice"
	"vtileraster/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, "vtileraster")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	var encoder imaging.Encoder
	if !cfg.Render.Interactivity {
		if cfg.Render.ImageEncoder == "" || cfg.Render.ImageEncoder == "vips" {
			imaging.Startup(imaging.Config{
				Concurrency: cfg.Vips.Concurrency,
				MaxCacheMB:  cfg.Vips.MaxCacheMB,
			}, log)
			defer imaging.Shutdown()
		}
		if encoder, err = imaging.New(cfg.Render.ImageEncoder); err != nil {
			log.Fatal("Failed to create image encoder", zap.Error(err))
		}
	}

	vectorCache, err := cache.NewCache(cache.Options{
		Type:        cfg.VectorCache.Type,
		FileDir:     cfg.VectorCache.FileDir,
		MemoryTiles: cfg.VectorCache.MemoryTiles,
		Redis: cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   "vtileraster",
		},
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize vector cache", zap.Error(err))
	}
	if c, ok := vectorCache.(io.Closer); ok {
		defer c.Close()
	}

	source, sourceMaxZoom, err := openSource(ctx, cfg.Tilesource, log)
	if err != nil {
		log.Fatal("Failed to open tile source", zap.Error(err))
	}
	if c, ok := source.(io.Closer); ok {
		defer c.Close()
	}

	opts := tileservice.OptionsFromConfig(cfg)
	if opts.SourceMaxZoom <= 0 {
		opts.SourceMaxZoom = sourceMaxZoom
	}

	cached := upstream.NewCachedSource(cfg.Tilesource.Name, source, vectorCache)
	fetcher := upstream.FromStandardTiles(cached)
	if cfg.Tilesource.Footprint == config.FootprintMetatile {
		fetcher = upstream.FromBytes(cached)
	}

	svc, err := tileservice.New(opts, tileservice.Deps{
		Fetcher:    fetcher,
		Rasterizer: render.NewVectorRasterizer(log),
		Encoder:    encoder,
		Logger:     log,
	})
	if err != nil {
		log.Fatal("Failed to create tile service", zap.Error(err))
	}
	if err := svc.Initialize(ctx); err != nil {
		log.Fatal("Failed to initialize tile service", zap.Error(err))
	}
	defer svc.Close()

	handlers := httphandlers.New(cfg, log, svc, vectorCache)

	warmupCtx, stopWarmup := context.WithCancel(ctx)
	defer stopWarmup()
	if cfg.Warmup.Levels > 0 {
		go svc.Warmup(warmupCtx, cfg.Warmup.Levels, cfg.Warmup.Workers)
	}

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.Int("port", cfg.Port),
		zap.String("content_type", svc.ContentType()),
		zap.Int("metatile", int(svc.MetatileSize())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopWarmup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

// openSource returns the configured upstream and, for MBTiles archives, the
// archive's maximum zoom.
func openSource(ctx context.Context, cfg config.Tilesource, log *zap.Logger) (upstream.BytesSource, int, error) {
	switch {
	case cfg.URL != "":
		log.Info("Using HTTP tile source", zap.String("url", cfg.URL))
		return upstream.NewHTTPSource(cfg.URL, cfg.Timeout, log), 0, nil
	case cfg.Dir != "":
		log.Info("Using directory tile source", zap.String("dir", cfg.Dir))
		return upstream.NewDirSource(cfg.Dir, ""), 0, nil
	case cfg.MBTiles != "":
		src, err := upstream.OpenMBTiles(cfg.MBTiles)
		if err != nil {
			return nil, 0, err
		}
		maxZoom, err := src.MaxZoom(ctx)
		if err != nil {
			src.Close()
			return nil, 0, err
		}
		log.Info("Using MBTiles tile source", zap.String("path", cfg.MBTiles), zap.Int("max_zoom", maxZoom))
		return src, maxZoom, nil
	default:
		return nil, 0, errors.New("no tile source configured")
	}
}
