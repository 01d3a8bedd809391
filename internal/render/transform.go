package render

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbclip "github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/project"

	"vtileraster/internal/metatile"
)

// transform maps tile extent coordinates of a source tile onto the pixel
// space of a surface covering a (possibly deeper) target tile.
type transform struct {
	scaleX, scaleY float64
	offX, offY     float64
}

func newTransform(source, target metatile.Coord, extent uint32, width, height float64) (transform, error) {
	if target.Z < source.Z {
		return transform{}, fmt.Errorf("target %v is above source tile %v", target, source)
	}
	if extent == 0 {
		extent = 4096
	}
	if source.X < 0 || source.Y < 0 || target.X < 0 || target.Y < 0 {
		return transform{}, fmt.Errorf("negative tile coordinate in %v or %v", source, target)
	}
	dz := target.Z - source.Z
	if target.X>>dz != source.X || target.Y>>dz != source.Y {
		return transform{}, fmt.Errorf("target %v is outside source tile %v", target, source)
	}

	d := math.Ldexp(1, dz)
	ox := float64(target.X) - float64(source.X)*d
	oy := float64(target.Y) - float64(source.Y)*d

	return transform{
		scaleX: d / float64(extent) * width,
		scaleY: d / float64(extent) * height,
		offX:   ox * width,
		offY:   oy * height,
	}, nil
}

func (t transform) apply(p orb.Point) orb.Point {
	return orb.Point{p[0]*t.scaleX - t.offX, p[1]*t.scaleY - t.offY}
}

func (t transform) bound(b orb.Bound) orb.Bound {
	return orb.Bound{Min: t.apply(b.Min), Max: t.apply(b.Max)}
}

// pixels returns g in surface pixels clipped to clip, or nil when nothing
// is left. Deep overzoom puts vertices far outside float32 range, so
// clipping happens in float64 before rasterizing.
func (t transform) pixels(g orb.Geometry, clip orb.Bound) orb.Geometry {
	return orbclip.Geometry(clip, project.Geometry(orb.Clone(g), t.apply))
}

func pt(p orb.Point) (float32, float32) {
	return float32(p[0]), float32(p[1])
}
