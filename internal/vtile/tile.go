// Package vtile holds parsed vector tiles for the duration of one metatile build.
package vtile

import (
	"bytes"
	"errors"

	"github.com/paulmach/orb/encoding/mvt"

	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Tile is a decoded vector tile bound to the coordinate it was parsed at.
// Geometries stay in tile extent space.
type Tile struct {
	Coord    metatile.Coord
	Layers   mvt.Layers
	Raw      []byte
	SrcBytes int
}

// Parse decodes MVT data (plain or gzipped) as the tile at coord.
// Empty data yields an empty tile.
func Parse(coord metatile.Coord, data []byte) (*Tile, error) {
	t := &Tile{Coord: coord, Raw: data, SrcBytes: len(data)}
	if len(data) == 0 {
		return t, nil
	}

	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, gzipMagic) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
		if errors.Is(err, mvt.ErrDataIsGZipped) {
			layers, err = mvt.UnmarshalGzipped(data)
		}
	}
	if err != nil {
		return nil, tileerr.New(tileerr.KindParse, "vtile.Parse "+coord.String(), err)
	}

	t.Layers = layers
	return t, nil
}

// Empty reports whether t has no features at all.
func (t *Tile) Empty() bool {
	for _, l := range t.Layers {
		if len(l.Features) > 0 {
			return false
		}
	}
	return true
}

// Layer returns the layer named name, or nil.
func (t *Tile) Layer(name string) *mvt.Layer {
	for _, l := range t.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}
