// Package slicer cuts a rendered metatile into its individual encoded tiles.
package slicer

import (
	"fmt"
	"image"

	"vtileraster/internal/grid"
	"vtileraster/internal/imaging"
	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
)

const ContentTypeJSON = "application/json; charset=utf-8"

// Tile is one encoded tile of a metatile.
type Tile struct {
	Data        []byte
	ContentType string

	// UTFGrid is the structured grid Data was serialized from. It is nil for
	// image tiles.
	UTFGrid *grid.UTFGrid
}

// Metatile holds every tile of one metatile, keyed by local offset.
type Metatile struct {
	Size  metatile.Size
	tiles map[metatile.Offset]Tile
}

func newMetatile(size metatile.Size) *Metatile {
	return &Metatile{Size: size, tiles: make(map[metatile.Offset]Tile, int(size)*int(size))}
}

// NewMetatile builds a metatile from already encoded tiles. It fails unless
// every offset is present.
func NewMetatile(size metatile.Size, tiles map[metatile.Offset]Tile) (*Metatile, error) {
	m := newMetatile(size)
	for _, off := range size.Offsets() {
		t, ok := tiles[off]
		if !ok {
			return nil, tileerr.Errorf(tileerr.KindInternalConsistency, "slicer.NewMetatile", "missing tile at offset %s", off)
		}
		m.tiles[off] = t
	}
	return m, nil
}

func (m *Metatile) Tile(off metatile.Offset) (Tile, bool) {
	t, ok := m.tiles[off]
	return t, ok
}

func (m *Metatile) Len() int {
	return len(m.tiles)
}

// Bytes is the total encoded size of all tiles.
func (m *Metatile) Bytes() int {
	n := 0
	for _, t := range m.tiles {
		n += len(t.Data)
	}
	return n
}

type Slicer struct {
	size     metatile.Size
	tileSize int
	format   string
	encoder  imaging.Encoder
	fields   []string
}

// New returns a slicer for images encoded in format.
func New(size metatile.Size, tileSize int, format string, encoder imaging.Encoder) *Slicer {
	return &Slicer{size: size, tileSize: tileSize, format: format, encoder: encoder}
}

// NewGrid returns a slicer for interactivity grids carrying fields.
func NewGrid(size metatile.Size, tileSize int, fields []string) *Slicer {
	return &Slicer{size: size, tileSize: tileSize, fields: fields}
}

func (s *Slicer) ContentType() string {
	if s.encoder == nil {
		return ContentTypeJSON
	}
	return "image/" + s.format
}

func (s *Slicer) checkDims(w, h int) error {
	want := int(s.size) * s.tileSize
	if w != want || h != want {
		return tileerr.Errorf(tileerr.KindInternalConsistency, "slicer", "metatile surface is %dx%d, want %dx%d", w, h, want, want)
	}
	return nil
}

// SliceImage encodes every tile of img. Any failure discards all tiles.
func (s *Slicer) SliceImage(img *image.RGBA) (*Metatile, error) {
	if s.encoder == nil {
		return nil, tileerr.Errorf(tileerr.KindInternalConsistency, "slicer.SliceImage", "slicer has no image encoder")
	}
	b := img.Bounds()
	if err := s.checkDims(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	m := newMetatile(s.size)
	ct := s.ContentType()
	for _, off := range s.size.Offsets() {
		x := b.Min.X + off.DX*s.tileSize
		y := b.Min.Y + off.DY*s.tileSize
		view := img.SubImage(image.Rect(x, y, x+s.tileSize, y+s.tileSize)).(*image.RGBA)

		data, err := s.encoder.Encode(view, s.format)
		if err != nil {
			return nil, tileerr.New(tileerr.KindEncode, "slicer.SliceImage", fmt.Errorf("tile %s: %w", off, err))
		}
		m.tiles[off] = Tile{Data: data, ContentType: ct}
	}
	return m, nil
}

// SliceGrid encodes every tile of g as UTFGrid JSON.
func (s *Slicer) SliceGrid(g *grid.Grid) (*Metatile, error) {
	pb := g.PixelBounds()
	if err := s.checkDims(pb.Dx(), pb.Dy()); err != nil {
		return nil, err
	}

	m := newMetatile(s.size)
	for _, off := range s.size.Offsets() {
		view, err := g.View(off.DX*s.tileSize, off.DY*s.tileSize, s.tileSize, s.tileSize)
		if err != nil {
			return nil, tileerr.New(tileerr.KindEncode, "slicer.SliceGrid", fmt.Errorf("tile %s: %w", off, err))
		}
		u := grid.Encode(view, s.fields)
		data, err := u.Marshal()
		if err != nil {
			return nil, tileerr.New(tileerr.KindEncode, "slicer.SliceGrid", fmt.Errorf("tile %s: %w", off, err))
		}
		m.tiles[off] = Tile{Data: data, ContentType: ContentTypeJSON, UTFGrid: &u}
	}
	return m, nil
}
