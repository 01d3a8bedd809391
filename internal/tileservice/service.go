// Package tileservice serves single raster tiles out of cached metatiles.
package tileservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vtileraster/internal/config"
	"vtileraster/internal/grid"
	"vtileraster/internal/imaging"
	"vtileraster/internal/metacache"
	"vtileraster/internal/metatile"
	"vtileraster/internal/metrics"
	"vtileraster/internal/render"
	"vtileraster/internal/slicer"
	"vtileraster/internal/style"
	"vtileraster/internal/tileerr"
	"vtileraster/internal/upstream"
)

const tracerName = "vtileraster/internal/tileservice"

var ErrNotInitialized = errors.New("tile service not initialized")

type Options struct {
	StylePath     string
	Scale         float64
	TileSize      int
	Resolution    int
	Interactivity bool
	Format        string
	BufferSize    int
	Metatile      int
	SourceMaxZoom int

	CacheMax           int
	CacheMaxAge        time.Duration
	CacheClearInterval time.Duration
	// RetainBypass caches bypass builds under their own key.
	RetainBypass bool

	// RenderWorkers bounds concurrent renders. Defaults to GOMAXPROCS.
	RenderWorkers int
}

// OptionsFromConfig maps the environment configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	r := cfg.Render
	return Options{
		StylePath:          r.StylePath,
		Scale:              r.Scale,
		TileSize:           r.TileSize,
		Resolution:         r.Resolution,
		Interactivity:      r.Interactivity,
		Format:             r.Format,
		BufferSize:         r.BufferSize,
		Metatile:           r.Metatile,
		SourceMaxZoom:      r.SourceMaxZoom,
		CacheMax:           cfg.Cache.Max,
		CacheMaxAge:        cfg.Cache.MaxAge,
		CacheClearInterval: cfg.Cache.ClearInterval,
		RetainBypass:       cfg.Cache.BypassPolicy != config.BypassNone,
	}
}

// Deps are the collaborators the service renders with.
type Deps struct {
	Fetcher    upstream.Fetcher
	Rasterizer render.Rasterizer
	// Encoder is required for image output and ignored for interactivity.
	Encoder imaging.Encoder
	// Style skips loading StylePath when set.
	Style  *style.Style
	Logger *zap.Logger
}

// Tile is one served tile.
type Tile struct {
	Data   []byte
	Header http.Header
	// UTFGrid is the structured grid behind Data in interactivity mode.
	UTFGrid *grid.UTFGrid
}

type Service struct {
	opts     Options
	size     metatile.Size
	format   string
	overzoom metatile.Overzoom

	fetcher    upstream.Fetcher
	rasterizer render.Rasterizer
	encoder    imaging.Encoder
	logger     *zap.Logger
	tracer     trace.Tracer

	initOnce sync.Once
	initErr  error
	style    *style.Style
	slicer   *slicer.Slicer
	interact *render.InteractivityOptions
	// cache is published last by initialize and read without holding initOnce.
	cache atomic.Pointer[metacache.Cache]
	slots chan struct{}
}

// New validates options and wires collaborators. Initialize must be called
// before serving.
func New(opts Options, deps Deps) (*Service, error) {
	size, err := metatile.ParseSize(opts.Metatile)
	if err != nil {
		return nil, err
	}
	if opts.TileSize <= 0 {
		return nil, tileerr.Errorf(tileerr.KindConfiguration, "tileservice.New", "tile size must be positive, got %d", opts.TileSize)
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if deps.Fetcher == nil || deps.Rasterizer == nil {
		return nil, tileerr.Errorf(tileerr.KindConfiguration, "tileservice.New", "fetcher and rasterizer are required")
	}

	s := &Service{
		opts:       opts,
		size:       size,
		overzoom:   metatile.Overzoom{MaxZoom: opts.SourceMaxZoom},
		fetcher:    deps.Fetcher,
		rasterizer: deps.Rasterizer,
		encoder:    deps.Encoder,
		style:      deps.Style,
		logger:     deps.Logger,
		tracer:     otel.Tracer(tracerName),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if opts.Interactivity {
		if opts.Resolution <= 0 || opts.TileSize%opts.Resolution != 0 {
			return nil, tileerr.Errorf(tileerr.KindConfiguration, "tileservice.New", "resolution %d must divide tile size %d", opts.Resolution, opts.TileSize)
		}
	} else {
		if s.format, err = imaging.NormalizeFormat(opts.Format); err != nil {
			return nil, err
		}
		if s.encoder == nil {
			return nil, tileerr.Errorf(tileerr.KindConfiguration, "tileservice.New", "an image encoder is required")
		}
	}

	workers := opts.RenderWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s.slots = make(chan struct{}, workers)
	return s, nil
}

// Initialize loads the style and creates the metatile cache. It runs once;
// later calls return the first result.
func (s *Service) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize()
	})
	return s.initErr
}

func (s *Service) initialize() error {
	if s.style == nil {
		st, err := style.Load(s.opts.StylePath)
		if err != nil {
			return err
		}
		s.style = st
	}

	if s.opts.Interactivity {
		layer := s.style.Parameters.InteractivityLayer
		if layer == "" {
			return tileerr.Errorf(tileerr.KindConfiguration, "tileservice.Initialize", "style has no interactivity_layer parameter")
		}
		fields := s.style.InteractivityFields()
		s.interact = &render.InteractivityOptions{Layer: layer, Fields: fields, Resolution: s.opts.Resolution}
		s.slicer = slicer.NewGrid(s.size, s.opts.TileSize, fields)
	} else {
		s.slicer = slicer.New(s.size, s.opts.TileSize, s.format, s.encoder)
	}

	s.cache.Store(metacache.New(metacache.Config{
		MaxEntries:    s.opts.CacheMax,
		MaxAge:        s.opts.CacheMaxAge,
		SweepInterval: s.opts.CacheClearInterval,
		RetainBypass:  s.opts.RetainBypass,
	}, s.buildMetatile, s.logger))

	s.logger.Info("tile service initialized",
		zap.String("style", s.style.Name),
		zap.Int("metatile", int(s.size)),
		zap.Int("tile_size", s.opts.TileSize),
		zap.Bool("interactivity", s.opts.Interactivity),
		zap.String("content_type", s.slicer.ContentType()),
		zap.Int("source_max_zoom", s.opts.SourceMaxZoom),
	)
	return nil
}

// ContentType is the single content type every tile is served with.
func (s *Service) ContentType() string {
	if s.opts.Interactivity {
		return slicer.ContentTypeJSON
	}
	return "image/" + s.format
}

func (s *Service) MetatileSize() metatile.Size {
	return s.size
}

// GetTile returns the tile at z/x/y. bypass skips cached metatiles.
func (s *Service) GetTile(ctx context.Context, z, x, y int, bypass bool) (*Tile, error) {
	cache := s.cache.Load()
	if cache == nil {
		return nil, ErrNotInitialized
	}

	c := metatile.Coord{Z: z, X: x, Y: y}
	key := s.size.KeyFor(c, bypass)

	m, err := cache.Get(ctx, key)
	if err != nil {
		metrics.TileRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	off := s.size.Offset(c)
	t, ok := m.Tile(off)
	if !ok {
		metrics.TileRequests.WithLabelValues("error").Inc()
		s.logger.Error("metatile is missing a tile", zap.Stringer("key", key), zap.Stringer("offset", off), zap.Int("tiles", m.Len()))
		return nil, tileerr.New(tileerr.KindInternalConsistency, "tileservice.GetTile",
			fmt.Errorf("%w: no tile at offset %s of metatile %s", tileerr.ErrNotFound, off, key))
	}

	metrics.TileRequests.WithLabelValues("ok").Inc()
	h := make(http.Header)
	h.Set("Content-Type", s.ContentType())
	return &Tile{Data: t.Data, Header: h, UTFGrid: t.UTFGrid}, nil
}

// buildMetatile fetches, renders and slices the metatile at key.Origin.
func (s *Service) buildMetatile(ctx context.Context, key metatile.Key) (m *slicer.Metatile, err error) {
	origin := key.Origin
	ctx, span := s.tracer.Start(ctx, "metatile.build", trace.WithAttributes(
		attribute.Int("metatile.z", origin.Z),
		attribute.Int("metatile.x", origin.X),
		attribute.Int("metatile.y", origin.Y),
		attribute.Bool("metatile.bypass", key.Bypass.Enabled()),
	))
	start := time.Now()
	defer func() {
		metrics.MetatileBuildLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.MetatileBuilds.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn("metatile build failed", zap.Stringer("key", key), zap.Error(err))
		} else {
			metrics.MetatileBuilds.WithLabelValues("ok").Inc()
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	fetchCoord, dz := s.overzoom.Resolve(origin)
	vt, err := s.fetcher.Fetch(ctx, upstream.Request{Coord: fetchCoord, Bypass: key.Bypass.Enabled()}, s.size.Virtual(fetchCoord))
	if err != nil {
		return nil, err
	}

	dim := int(s.size) * s.opts.TileSize
	opts := render.Options{
		Width:            dim,
		Height:           dim,
		Scale:            s.opts.Scale,
		BufferSize:       s.opts.BufferSize,
		ScaleDenominator: render.ScaleDenominator(origin.Z, s.opts.Scale),
		Target:           s.size.Virtual(origin),
		Interactivity:    s.interact,
	}

	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	if s.opts.Interactivity {
		g, rerr := s.rasterizer.RenderGrid(ctx, s.style, vt, opts)
		if rerr != nil {
			return nil, asRenderError(rerr)
		}
		m, err = s.slicer.SliceGrid(g)
	} else {
		img, rerr := s.rasterizer.RenderImage(ctx, s.style, vt, opts)
		if rerr != nil {
			return nil, asRenderError(rerr)
		}
		m, err = s.slicer.SliceImage(img)
	}
	if err != nil {
		return nil, err
	}
	if want := int(s.size) * int(s.size); m.Len() != want {
		return nil, tileerr.Errorf(tileerr.KindInternalConsistency, "tileservice.buildMetatile", "sliced %d tiles, want %d", m.Len(), want)
	}

	s.logger.Debug("built metatile",
		zap.Stringer("key", key),
		zap.Stringer("fetched", fetchCoord),
		zap.Int("overzoom", dz),
		zap.Int("src_bytes", vt.SrcBytes),
		zap.Int("bytes", m.Bytes()),
		zap.Duration("took", time.Since(start)),
	)
	return m, nil
}

func asRenderError(err error) error {
	if tileerr.KindOf(err) != tileerr.KindUnknown {
		return err
	}
	return tileerr.New(tileerr.KindRender, "tileservice.render", err)
}

// Purge drops every cached metatile and returns how many were held.
// In-flight builds are unaffected.
func (s *Service) Purge() int {
	cache := s.cache.Load()
	if cache == nil {
		return 0
	}
	n := cache.Purge()
	s.logger.Info("metatile cache purged", zap.Int("metatiles", n))
	return n
}

// Close stops the cache sweeper.
func (s *Service) Close() {
	if cache := s.cache.Load(); cache != nil {
		cache.Close()
	}
}
