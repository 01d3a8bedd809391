package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/image/vector"

	"vtileraster/internal/grid"
	"vtileraster/internal/style"
	"vtileraster/internal/tileerr"
	"vtileraster/internal/vtile"
)

// VectorRasterizer draws MVT geometries with anti-aliased path filling.
type VectorRasterizer struct {
	logger *zap.Logger
}

func NewVectorRasterizer(logger *zap.Logger) *VectorRasterizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorRasterizer{logger: logger}
}

var _ Rasterizer = (*VectorRasterizer)(nil)

func (r *VectorRasterizer) RenderImage(ctx context.Context, st *style.Style, t *vtile.Tile, opts Options) (*image.RGBA, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, tileerr.Errorf(tileerr.KindRender, "render.RenderImage", "invalid surface %dx%d", opts.Width, opts.Height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	if bg := st.BackgroundColor(); bg != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}
	if t.Empty() {
		r.logger.Debug("empty source tile", zap.Stringer("source", t.Coord), zap.Stringer("target", opts.Target))
		return dst, nil
	}

	z := vector.NewRasterizer(opts.Width, opts.Height)
	clip := clipBound(opts.Width, opts.Height, float64(opts.BufferSize))
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	drawn := 0
	for _, rule := range st.RulesAt(opts.ScaleDenominator) {
		layer := t.Layer(rule.SourceLayer)
		if layer == nil {
			continue
		}
		tr, err := newTransform(t.Coord, opts.Target, layer.Extent, float64(opts.Width), float64(opts.Height))
		if err != nil {
			return nil, tileerr.New(tileerr.KindRender, "render.RenderImage", err)
		}

		for _, f := range layer.Features {
			if f.Geometry == nil || !tr.bound(f.Geometry.Bound()).Intersects(clip) {
				continue
			}
			width := rule.StrokeWidth * scale
			g := tr.pixels(f.Geometry, pad(clip, width+rule.PointRadius*scale))
			if g == nil {
				continue
			}
			drawn += r.drawFeature(dst, z, g, rule, width, scale)
		}
	}

	r.logger.Debug("rendered image",
		zap.Stringer("source", t.Coord),
		zap.Stringer("target", opts.Target),
		zap.Float64("scale_denominator", opts.ScaleDenominator),
		zap.Int("features", drawn),
	)
	return dst, nil
}

// drawFeature paints one feature already projected into surface pixels.
func (r *VectorRasterizer) drawFeature(dst *image.RGBA, z *vector.Rasterizer, g orb.Geometry, rule style.Rule, width, scale float64) int {
	fill, stroke := rule.FillColor(), rule.StrokeColor()

	switch geom := g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		if fill != nil {
			fillPath(dst, z, geom, fill)
		}
		if stroke != nil {
			strokeRings(dst, z, geom, width, stroke)
		}
	case orb.LineString, orb.MultiLineString:
		c := stroke
		if c == nil {
			c = fill
		}
		if c == nil {
			return 0
		}
		strokeLines(dst, z, geom, width, c)
	case orb.Point, orb.MultiPoint:
		c := fill
		if c == nil {
			c = stroke
		}
		if c == nil {
			return 0
		}
		drawPoints(dst, z, geom, rule.PointRadius*scale, c)
	default:
		return 0
	}
	return 1
}

func (r *VectorRasterizer) RenderGrid(ctx context.Context, st *style.Style, t *vtile.Tile, opts Options) (*grid.Grid, error) {
	io := opts.Interactivity
	if io == nil || io.Layer == "" {
		return nil, tileerr.Errorf(tileerr.KindRender, "render.RenderGrid", "no interactivity layer configured")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, tileerr.Errorf(tileerr.KindRender, "render.RenderGrid", "invalid surface %dx%d", opts.Width, opts.Height)
	}

	g := grid.New(opts.Width, opts.Height, io.Resolution)
	layer := t.Layer(io.Layer)
	if layer == nil {
		return g, nil
	}

	// Rasterize directly at cell resolution.
	cellW, cellH := float64(g.Width), float64(g.Height)
	tr, err := newTransform(t.Coord, opts.Target, layer.Extent, cellW, cellH)
	if err != nil {
		return nil, tileerr.New(tileerr.KindRender, "render.RenderGrid", err)
	}

	z := vector.NewRasterizer(g.Width, g.Height)
	mask := image.NewAlpha(image.Rect(0, 0, g.Width, g.Height))
	clip := clipBound(g.Width, g.Height, float64(opts.BufferSize)/float64(g.Resolution))
	lineWidth := math.Max(1, opts.Scale)

	for i, f := range layer.Features {
		if f.Geometry == nil || !tr.bound(f.Geometry.Bound()).Intersects(clip) {
			continue
		}
		pg := tr.pixels(f.Geometry, pad(clip, lineWidth))
		if pg == nil {
			continue
		}

		clear(mask.Pix)
		switch geom := pg.(type) {
		case orb.Polygon, orb.MultiPolygon:
			fillPath(mask, z, geom, color.Opaque)
		case orb.LineString, orb.MultiLineString:
			strokeLines(mask, z, geom, lineWidth, color.Opaque)
		case orb.Point, orb.MultiPoint:
			drawPoints(mask, z, geom, 0.5, color.Opaque)
		default:
			continue
		}

		ref := int32(0)
		for cy := 0; cy < g.Height; cy++ {
			row := mask.Pix[cy*mask.Stride : cy*mask.Stride+g.Width]
			for cx, a := range row {
				if a < 0x80 {
					continue
				}
				if ref == 0 {
					ref = g.AddFeature(grid.Feature{Key: featureKey(f, i), Properties: f.Properties})
				}
				g.Set(cx, cy, ref)
			}
		}
	}
	return g, nil
}

// featureKey uses the feature id, falling back to its position in the layer.
func featureKey(f *geojson.Feature, index int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fmt.Sprint(index + 1)
}

func clipBound(width, height int, buffer float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{-buffer, -buffer},
		Max: orb.Point{float64(width) + buffer, float64(height) + buffer},
	}
}

// pad grows b so clipped edges land outside the painted area.
func pad(b orb.Bound, margin float64) orb.Bound {
	margin++
	return orb.Bound{
		Min: orb.Point{b.Min[0] - margin, b.Min[1] - margin},
		Max: orb.Point{b.Max[0] + margin, b.Max[1] + margin},
	}
}

func paint(dst draw.Image, z *vector.Rasterizer, c color.Color) {
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
	b := dst.Bounds()
	z.Reset(b.Dx(), b.Dy())
}

func addRing(z *vector.Rasterizer, ring orb.Ring) {
	if len(ring) < 3 {
		return
	}
	z.MoveTo(pt(ring[0]))
	for _, p := range ring[1:] {
		z.LineTo(pt(p))
	}
	z.ClosePath()
}

func fillPath(dst draw.Image, z *vector.Rasterizer, g orb.Geometry, c color.Color) {
	switch geom := g.(type) {
	case orb.Polygon:
		for _, ring := range geom {
			addRing(z, ring)
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				addRing(z, ring)
			}
		}
	}
	paint(dst, z, c)
}

// addSegment adds the quad covering a line segment of the given width.
func addSegment(z *vector.Rasterizer, ax, ay, bx, by float32, width float64) {
	dx, dy := float64(bx-ax), float64(by-ay)
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx := float32(-dy / l * width / 2)
	ny := float32(dx / l * width / 2)
	z.MoveTo(ax+nx, ay+ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(ax-nx, ay-ny)
	z.ClosePath()
}

func addLine(z *vector.Rasterizer, pts []orb.Point, width float64) {
	for i := 1; i < len(pts); i++ {
		ax, ay := pt(pts[i-1])
		bx, by := pt(pts[i])
		addSegment(z, ax, ay, bx, by, width)
	}
}

func strokeLines(dst draw.Image, z *vector.Rasterizer, g orb.Geometry, width float64, c color.Color) {
	switch geom := g.(type) {
	case orb.LineString:
		addLine(z, geom, width)
	case orb.MultiLineString:
		for _, ls := range geom {
			addLine(z, ls, width)
		}
	}
	paint(dst, z, c)
}

func strokeRings(dst draw.Image, z *vector.Rasterizer, g orb.Geometry, width float64, c color.Color) {
	var rings []orb.Ring
	switch geom := g.(type) {
	case orb.Polygon:
		rings = geom
	case orb.MultiPolygon:
		for _, poly := range geom {
			rings = append(rings, poly...)
		}
	}
	for _, ring := range rings {
		addLine(z, ring, width)
	}
	paint(dst, z, c)
}

func drawPoints(dst draw.Image, z *vector.Rasterizer, g orb.Geometry, radius float64, c color.Color) {
	var pts []orb.Point
	switch geom := g.(type) {
	case orb.Point:
		pts = []orb.Point{geom}
	case orb.MultiPoint:
		pts = geom
	}
	r := float32(radius)
	for _, p := range pts {
		x, y := pt(p)
		z.MoveTo(x-r, y-r)
		z.LineTo(x+r, y-r)
		z.LineTo(x+r, y+r)
		z.LineTo(x-r, y+r)
		z.ClosePath()
	}
	paint(dst, z, c)
}
