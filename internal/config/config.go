package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"vtileraster/internal/imaging"
	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
)

type (
	Config struct {
		Port          int    `env:"PORT" envDefault:"8080"`
		LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
		AllowedOrigin string `env:"ALLOWED_ORIGIN"`
		// AdminToken enables POST /admin/purge when set.
		AdminToken string `env:"ADMIN_TOKEN"`

		Render     Render
		Tilesource Tilesource `envPrefix:"TILESOURCE_"`
		Cache      Cache      `envPrefix:"CACHE_"`

		VectorCache VectorCache `envPrefix:"VECTOR_CACHE_"`
		Redis       Redis       `envPrefix:"REDIS_"`
		Vips        Vips        `envPrefix:"VIPS_"`
		Warmup      Warmup      `envPrefix:"WARMUP_"`
		Telemetry   Telemetry   `envPrefix:"TELEMETRY_"`
	}

	Render struct {
		StylePath     string  `env:"STYLE_PATH"`
		Scale         float64 `env:"SCALE" envDefault:"1"`
		TileSize      int     `env:"TILE_SIZE" envDefault:"256"`
		Resolution    int     `env:"RESOLUTION" envDefault:"4"`
		Interactivity bool    `env:"INTERACTIVITY" envDefault:"false"`
		Format        string  `env:"FORMAT" envDefault:"png"`
		BufferSize    int     `env:"BUFFER_SIZE" envDefault:"128"`
		Metatile      int     `env:"METATILE" envDefault:"1"`
		// AutoLoadFonts is accepted for compatibility. The vector rasterizer
		// draws no text labels, so it has no effect.
		AutoLoadFonts bool   `env:"AUTO_LOAD_FONTS" envDefault:"true"`
		ImageEncoder  string `env:"IMAGE_ENCODER" envDefault:"vips"`
		// SourceMaxZoom of 0 disables overzooming.
		SourceMaxZoom int `env:"SOURCE_MAX_ZOOM" envDefault:"0"`
	}

	// Tilesource names the upstream vector layer. Exactly one of URL, Dir
	// and MBTiles must be set. Footprint "tile" means ordinary XYZ tiles;
	// "metatile" means the URL serves vector data covering a whole metatile.
	Tilesource struct {
		Name      string        `env:"NAME" envDefault:"default"`
		Footprint string        `env:"FOOTPRINT" envDefault:"tile"`
		URL       string        `env:"URL"`
		Dir       string        `env:"DIR"`
		MBTiles   string        `env:"MBTILES"`
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
	}

	Cache struct {
		Max           int           `env:"MAX" envDefault:"16"`
		MaxAge        time.Duration `env:"MAX_AGE" envDefault:"15s"`
		ClearInterval time.Duration `env:"CLEAR_INTERVAL" envDefault:"5s"`
		BypassPolicy  string        `env:"BYPASS_POLICY" envDefault:"separate"`
	}

	VectorCache struct {
		Type        string `env:"TYPE" envDefault:"memory"`
		MemoryTiles int    `env:"MEMORY_TILES" envDefault:"256"`
		FileDir     string `env:"FILE_DIR" envDefault:"/data/cache"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Vips struct {
		MaxCacheMB  int `env:"MAX_CACHE_MB" envDefault:"256"`
		Concurrency int `env:"CONCURRENCY" envDefault:"1"`
	}

	Warmup struct {
		Levels  int `env:"LEVELS" envDefault:"0"`
		Workers int `env:"WORKERS" envDefault:"1"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"vtileraster"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}
)

const (
	BypassSeparate = "separate"
	BypassNone     = "none"

	FootprintTile     = "tile"
	FootprintMetatile = "metatile"
)

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, tileerr.New(tileerr.KindConfiguration, "config.Load", err)
	}
	return &cfg, nil
}

// Parse reads configuration from environ instead of the process environment.
func Parse(environ map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return nil, tileerr.New(tileerr.KindConfiguration, "config.Parse", err)
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail on every request.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return tileerr.Errorf(tileerr.KindConfiguration, "config.Validate", format, args...)
	}

	r := c.Render
	if _, err := metatile.ParseSize(r.Metatile); err != nil {
		return err
	}
	if r.StylePath == "" {
		return fail("STYLE_PATH is required")
	}
	if r.TileSize <= 0 {
		return fail("tile size must be positive, got %d", r.TileSize)
	}
	if r.Scale <= 0 {
		return fail("scale must be positive, got %v", r.Scale)
	}
	if r.BufferSize < 0 {
		return fail("buffer size must not be negative, got %d", r.BufferSize)
	}
	if r.Interactivity {
		if r.Resolution <= 0 || r.TileSize%r.Resolution != 0 {
			return fail("resolution %d must divide tile size %d", r.Resolution, r.TileSize)
		}
	} else if err := imaging.CheckEncoder(r.ImageEncoder, r.Format); err != nil {
		return err
	}

	set := 0
	for _, s := range []string{c.Tilesource.URL, c.Tilesource.Dir, c.Tilesource.MBTiles} {
		if strings.TrimSpace(s) != "" {
			set++
		}
	}
	if set != 1 {
		return fail("exactly one of TILESOURCE_URL, TILESOURCE_DIR, TILESOURCE_MBTILES must be set")
	}

	switch c.Tilesource.Footprint {
	case FootprintTile:
	case FootprintMetatile:
		if c.Tilesource.URL == "" {
			return fail("TILESOURCE_FOOTPRINT=%s needs TILESOURCE_URL; directories and MBTiles hold single tiles", FootprintMetatile)
		}
	default:
		return fail("unknown tile source footprint: %s (supported: %s, %s)", c.Tilesource.Footprint, FootprintTile, FootprintMetatile)
	}

	switch c.Cache.BypassPolicy {
	case BypassSeparate, BypassNone:
	default:
		return fail("unknown bypass policy: %s (supported: %s, %s)", c.Cache.BypassPolicy, BypassSeparate, BypassNone)
	}
	if c.Cache.Max <= 0 {
		return fail("cache max must be positive, got %d", c.Cache.Max)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
