package cache

import "fmt"

// TileKey identifies a raw vector tile payload from one upstream source.
type TileKey struct {
	Source string
	Z      int
	X      int
	Y      int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Source, k.Z, k.X, k.Y)
}

// Cache stores upstream vector tile payloads. An empty payload is a valid value.
type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	// Clear drops every stored payload.
	Clear()
}
