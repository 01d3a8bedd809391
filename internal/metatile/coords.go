// Package metatile maps single tile coordinates onto the aligned metatile
// blocks they are rendered in, and onto the vector tile that covers a block.
package metatile

import (
	"fmt"

	"vtileraster/internal/tileerr"
)

// Coord is a z/x/y tile coordinate. Range checks are the caller's concern.
type Coord struct {
	Z int
	X int
	Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Size is the edge length of a metatile, in tiles.
type Size int

var zoomOffsets = map[Size]int{1: 0, 2: 1, 4: 2, 8: 3}

// ParseSize validates n as a metatile size.
func ParseSize(n int) (Size, error) {
	if _, ok := zoomOffsets[Size(n)]; !ok {
		return 0, tileerr.Errorf(tileerr.KindConfiguration, "metatile.ParseSize",
			"unsupported metatile setting: %d (supported: 1, 2, 4, 8)", n)
	}
	return Size(n), nil
}

// ZoomOffset is the number of zoom levels between a tile and the vector tile
// whose extent equals its metatile.
func (s Size) ZoomOffset() int {
	return zoomOffsets[s]
}

// Origin returns the top-left tile of the metatile containing c.
func (s Size) Origin(c Coord) Coord {
	n := int(s)
	return Coord{
		Z: c.Z,
		X: floorDiv(c.X, n) * n,
		Y: floorDiv(c.Y, n) * n,
	}
}

// Offset returns c's position inside its metatile.
func (s Size) Offset(c Coord) Offset {
	o := s.Origin(c)
	return Offset{DX: c.X - o.X, DY: c.Y - o.Y}
}

// Virtual returns the vector tile coordinate whose extent matches the
// footprint of the metatile containing c.
func (s Size) Virtual(c Coord) Coord {
	n := int(s)
	return Coord{
		Z: c.Z - s.ZoomOffset(),
		X: floorDiv(c.X, n),
		Y: floorDiv(c.Y, n),
	}
}

// Offsets lists every local offset of a metatile, dx-major.
func (s Size) Offsets() []Offset {
	n := int(s)
	offsets := make([]Offset, 0, n*n)
	for dx := 0; dx < n; dx++ {
		for dy := 0; dy < n; dy++ {
			offsets = append(offsets, Offset{DX: dx, DY: dy})
		}
	}
	return offsets
}

// Offset is a tile position local to its metatile.
type Offset struct {
	DX int
	DY int
}

func (o Offset) String() string {
	return fmt.Sprintf("%d,%d", o.DX, o.DY)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
