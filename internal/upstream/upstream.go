// Package upstream fetches the vector data a metatile is rendered from.
//
// Sources come in two capabilities: a BytesSource returns serialized MVT
// payloads, a TileSource hands out already decoded tiles. Both are wrapped in
// a Fetcher that always yields a tile bound to the expected coordinate.
package upstream

import (
	"context"

	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
	"vtileraster/internal/vtile"
)

// Request asks a source for the vector tile at Coord. Coord is the
// (possibly overzoom clamped) metatile origin.
type Request struct {
	Coord  metatile.Coord
	Bypass bool
}

type BytesSource interface {
	FetchBytes(ctx context.Context, req Request) ([]byte, error)
}

type TileSource interface {
	FetchTile(ctx context.Context, req Request) (*vtile.Tile, error)
}

// Fetcher returns the vector tile for req, bound to expected.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, expected metatile.Coord) (*vtile.Tile, error)
}

type bytesFetcher struct {
	source BytesSource
}

// FromBytes adapts a source of serialized payloads.
func FromBytes(source BytesSource) Fetcher {
	return &bytesFetcher{source: source}
}

func (f *bytesFetcher) Fetch(ctx context.Context, req Request, expected metatile.Coord) (*vtile.Tile, error) {
	data, err := f.source.FetchBytes(ctx, req)
	if err != nil {
		return nil, asFetchError(req, err)
	}
	return vtile.Parse(expected, data)
}

type tileFetcher struct {
	source TileSource
}

// FromTiles adapts a source of decoded tiles. A tile decoded at another
// coordinate is parsed again from its raw payload.
func FromTiles(source TileSource) Fetcher {
	return &tileFetcher{source: source}
}

func (f *tileFetcher) Fetch(ctx context.Context, req Request, expected metatile.Coord) (*vtile.Tile, error) {
	t, err := f.source.FetchTile(ctx, req)
	if err != nil {
		return nil, asFetchError(req, err)
	}
	if t == nil {
		return vtile.Parse(expected, nil)
	}
	if t.Coord == expected {
		return t, nil
	}
	return vtile.Parse(expected, t.Raw)
}

func asFetchError(req Request, err error) error {
	if tileerr.KindOf(err) != tileerr.KindUnknown {
		return err
	}
	return tileerr.New(tileerr.KindUpstreamFetch, "upstream.Fetch "+req.Coord.String(), err)
}
