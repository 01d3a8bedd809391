package upstream

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/project"

	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
	"vtileraster/internal/vtile"
)

const stitchExtent = 4096

type stitchFetcher struct {
	source BytesSource
}

// FromStandardTiles adapts a source of ordinary XYZ tiles. The tiles of
// req.Coord's zoom that cover expected are fetched and merged into a single
// handle at expected. Tiles outside the world are skipped.
func FromStandardTiles(source BytesSource) Fetcher {
	return &stitchFetcher{source: source}
}

type stitchPart struct {
	coord  metatile.Coord
	dx, dy int
	tile   *vtile.Tile
	err    error
}

func (f *stitchFetcher) Fetch(ctx context.Context, req Request, expected metatile.Coord) (*vtile.Tile, error) {
	dz := req.Coord.Z - expected.Z
	if dz == 0 {
		return FromBytes(f.source).Fetch(ctx, Request{Coord: expected, Bypass: req.Bypass}, expected)
	}
	if dz < 0 || dz > 3 {
		return nil, tileerr.Errorf(tileerr.KindInternalConsistency, "upstream.FromStandardTiles",
			"cannot cover %s with tiles of zoom %d", expected, req.Coord.Z)
	}

	n := 1 << dz
	parts := make([]stitchPart, 0, n*n)
	for dx := 0; dx < n; dx++ {
		for dy := 0; dy < n; dy++ {
			c := metatile.Coord{Z: req.Coord.Z, X: expected.X*n + dx, Y: expected.Y*n + dy}
			if inWorld(c) {
				parts = append(parts, stitchPart{coord: c, dx: dx, dy: dy})
			}
		}
	}

	var wg sync.WaitGroup
	for i := range parts {
		wg.Add(1)
		go func(p *stitchPart) {
			defer wg.Done()
			partReq := Request{Coord: p.coord, Bypass: req.Bypass}
			data, err := f.source.FetchBytes(ctx, partReq)
			if err != nil {
				p.err = asFetchError(partReq, err)
				return
			}
			p.tile, p.err = vtile.Parse(p.coord, data)
		}(&parts[i])
	}
	wg.Wait()

	merged := &vtile.Tile{Coord: expected}
	layers := make(map[string]*mvt.Layer)
	for _, p := range parts {
		if p.err != nil {
			return nil, p.err
		}
		merged.SrcBytes += p.tile.SrcBytes
		for _, l := range p.tile.Layers {
			dst, ok := layers[l.Name]
			if !ok {
				dst = &mvt.Layer{Name: l.Name, Version: l.Version, Extent: stitchExtent}
				layers[l.Name] = dst
				merged.Layers = append(merged.Layers, dst)
			}
			proj := placeIn(l.Extent, n, p.dx, p.dy)
			for _, feat := range l.Features {
				if feat.Geometry != nil {
					feat.Geometry = project.Geometry(feat.Geometry, proj)
				}
				dst.Features = append(dst.Features, feat)
			}
		}
	}
	return merged, nil
}

// placeIn maps a part's extent coordinates into cell (dx, dy) of an n x n
// grid spanning stitchExtent.
func placeIn(extent uint32, n, dx, dy int) orb.Projection {
	if extent == 0 {
		extent = stitchExtent
	}
	scale := stitchExtent / (float64(extent) * float64(n))
	ox := float64(dx) * stitchExtent / float64(n)
	oy := float64(dy) * stitchExtent / float64(n)
	return func(p orb.Point) orb.Point {
		return orb.Point{p[0]*scale + ox, p[1]*scale + oy}
	}
}

func inWorld(c metatile.Coord) bool {
	if c.Z < 0 || c.X < 0 || c.Y < 0 {
		return false
	}
	if c.Z >= 62 {
		return true
	}
	return c.X < 1<<c.Z && c.Y < 1<<c.Z
}
