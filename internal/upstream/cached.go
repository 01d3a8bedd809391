package upstream

import (
	"context"

	"vtileraster/internal/cache"
	"vtileraster/internal/metrics"
)

// CachedSource keeps raw payloads in a second-level store. Bypass requests
// skip the lookup but still refresh the stored copy.
type CachedSource struct {
	name   string
	source BytesSource
	store  cache.Cache
}

func NewCachedSource(name string, source BytesSource, store cache.Cache) *CachedSource {
	return &CachedSource{name: name, source: source, store: store}
}

func (s *CachedSource) key(req Request) cache.TileKey {
	return cache.TileKey{Source: s.name, Z: req.Coord.Z, X: req.Coord.X, Y: req.Coord.Y}
}

func (s *CachedSource) FetchBytes(ctx context.Context, req Request) ([]byte, error) {
	key := s.key(req)
	if !req.Bypass {
		if data, ok := s.store.Get(key); ok {
			metrics.VectorCacheHits.Inc()
			return data, nil
		}
	}
	metrics.VectorCacheMisses.Inc()

	data, err := s.source.FetchBytes(ctx, req)
	if err != nil {
		return nil, err
	}
	s.store.Set(key, data)
	return data, nil
}
