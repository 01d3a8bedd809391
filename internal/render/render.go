// Package render turns parsed vector tiles into metatile-sized images and
// interactivity grids.
package render

import (
	"context"
	"image"
	"math"

	"vtileraster/internal/grid"
	"vtileraster/internal/metatile"
	"vtileraster/internal/style"
	"vtileraster/internal/vtile"
)

// EarthMeridianConstant is the scale denominator of zoom 0 at scale 1.
const EarthMeridianConstant = 559082264.028

// ScaleDenominator returns the cartographic scale for a tile requested at
// zoom. Always pass the zoom the client asked for, not the zoom of the vector
// data backing it.
func ScaleDenominator(zoom int, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	return EarthMeridianConstant / math.Exp2(float64(zoom)) / scale
}

type InteractivityOptions struct {
	Layer      string
	Fields     []string
	Resolution int
}

type Options struct {
	// Width and Height of the render surface in pixels.
	Width  int
	Height int

	Scale            float64
	BufferSize       int
	ScaleDenominator float64

	// Target is the tile whose extent the surface covers. It equals the
	// vector tile's coordinate unless the data is being overzoomed.
	Target metatile.Coord

	Interactivity *InteractivityOptions
}

// Rasterizer renders one vector tile onto a fresh surface. Implementations
// must be safe for concurrent use with a shared style.
type Rasterizer interface {
	RenderImage(ctx context.Context, st *style.Style, t *vtile.Tile, opts Options) (*image.RGBA, error)
	RenderGrid(ctx context.Context, st *style.Style, t *vtile.Tile, opts Options) (*grid.Grid, error)
}
