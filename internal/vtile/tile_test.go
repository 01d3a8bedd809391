package vtile

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"vtileraster/internal/metatile"
	"vtileraster/internal/tileerr"
)

func sampleLayers() mvt.Layers {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {2048, 0}, {2048, 2048}, {0, 2048}, {0, 0}}})
	f.ID = 7
	f.Properties["name"] = "block"
	fc.Append(f)
	return mvt.Layers{&mvt.Layer{Name: "blocks", Version: 2, Extent: 4096, Features: fc.Features}}
}

func TestParseEmptyPayload(t *testing.T) {
	coord := metatile.Coord{Z: 3, X: 1, Y: 3}
	tile, err := Parse(coord, nil)
	if err != nil {
		t.Fatalf("empty payload must not fail: %v", err)
	}
	if !tile.Empty() || tile.Coord != coord || tile.SrcBytes != 0 {
		t.Fatalf("unexpected tile %+v", tile)
	}
}

func TestParsePlainAndGzipped(t *testing.T) {
	plain, err := mvt.Marshal(sampleLayers())
	if err != nil {
		t.Fatal(err)
	}
	gz, err := mvt.MarshalGzipped(sampleLayers())
	if err != nil {
		t.Fatal(err)
	}

	for name, data := range map[string][]byte{"plain": plain, "gzip": gz} {
		t.Run(name, func(t *testing.T) {
			tile, err := Parse(metatile.Coord{Z: 2, X: 1, Y: 1}, data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if tile.SrcBytes != len(data) {
				t.Errorf("SrcBytes = %d, want %d", tile.SrcBytes, len(data))
			}
			l := tile.Layer("blocks")
			if l == nil || len(l.Features) != 1 {
				t.Fatalf("expected one feature in layer blocks, got %+v", tile.Layers)
			}
			if got := l.Features[0].Properties.MustString("name", ""); got != "block" {
				t.Errorf("name = %q", got)
			}
			if tile.Layer("missing") != nil {
				t.Errorf("Layer(missing) should be nil")
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(metatile.Coord{}, []byte{0x1a, 0x0a, 0x01, 0x02})
	if !errors.Is(err, tileerr.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
