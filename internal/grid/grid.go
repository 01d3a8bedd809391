// Package grid models interactivity grids and their UTFGrid encoding.
package grid

import (
	"fmt"
	"image"
)

// Feature is the metadata a grid cell points at.
type Feature struct {
	Key        string
	Properties map[string]any
}

// Grid is a raster of feature references. Each cell covers Resolution x
// Resolution pixels of the rendered surface.
type Grid struct {
	Width      int // cells
	Height     int // cells
	Resolution int

	cells    []int32 // 0 = no feature, otherwise index+1 into features
	features []Feature
	index    map[string]int32
}

// New allocates a grid covering width x height pixels.
func New(width, height, resolution int) *Grid {
	if resolution <= 0 {
		resolution = 1
	}
	w := (width + resolution - 1) / resolution
	h := (height + resolution - 1) / resolution
	return &Grid{
		Width:      w,
		Height:     h,
		Resolution: resolution,
		cells:      make([]int32, w*h),
		index:      make(map[string]int32),
	}
}

// PixelBounds is the area of the rendered surface covered by g.
func (g *Grid) PixelBounds() image.Rectangle {
	return image.Rect(0, 0, g.Width*g.Resolution, g.Height*g.Resolution)
}

// AddFeature registers a feature and returns its reference. Adding a key
// twice returns the first reference.
func (g *Grid) AddFeature(f Feature) int32 {
	if ref, ok := g.index[f.Key]; ok {
		return ref
	}
	g.features = append(g.features, f)
	ref := int32(len(g.features))
	g.index[f.Key] = ref
	return ref
}

// Set points cell (cx, cy) at ref. Out of range cells are ignored.
func (g *Grid) Set(cx, cy int, ref int32) {
	if cx < 0 || cy < 0 || cx >= g.Width || cy >= g.Height {
		return
	}
	g.cells[cy*g.Width+cx] = ref
}

// At returns the feature at cell (cx, cy), if any.
func (g *Grid) At(cx, cy int) (Feature, bool) {
	if cx < 0 || cy < 0 || cx >= g.Width || cy >= g.Height {
		return Feature{}, false
	}
	ref := g.cells[cy*g.Width+cx]
	if ref == 0 {
		return Feature{}, false
	}
	return g.features[ref-1], true
}

// View returns the sub-grid covering the pixel rectangle at (x, y) with size
// w x h. Pixel values must be multiples of Resolution.
func (g *Grid) View(x, y, w, h int) (*Grid, error) {
	r := g.Resolution
	if x%r != 0 || y%r != 0 || w%r != 0 || h%r != 0 {
		return nil, fmt.Errorf("grid view %d,%d %dx%d not aligned to resolution %d", x, y, w, h, r)
	}
	if !image.Rect(x, y, x+w, y+h).In(g.PixelBounds()) {
		return nil, fmt.Errorf("grid view %d,%d %dx%d outside %v", x, y, w, h, g.PixelBounds())
	}

	cx0, cy0 := x/r, y/r
	v := &Grid{
		Width:      w / r,
		Height:     h / r,
		Resolution: r,
		cells:      make([]int32, (w/r)*(h/r)),
		features:   g.features,
		index:      g.index,
	}
	for cy := 0; cy < v.Height; cy++ {
		src := g.cells[(cy0+cy)*g.Width+cx0 : (cy0+cy)*g.Width+cx0+v.Width]
		copy(v.cells[cy*v.Width:(cy+1)*v.Width], src)
	}
	return v, nil
}
