package metatile

// Overzoom clamps requests beyond the source's native maximum zoom.
type Overzoom struct {
	// MaxZoom is the highest zoom the source serves. Zero or negative means unset.
	MaxZoom int
}

// Resolve returns the coordinate the upstream fetch must be issued at and the
// number of zoom levels it was clamped by. Rendering keeps using c itself.
func (o Overzoom) Resolve(c Coord) (Coord, int) {
	if o.MaxZoom <= 0 || c.Z <= o.MaxZoom {
		return c, 0
	}
	dz := c.Z - o.MaxZoom
	// Arithmetic shifts floor and stay defined past the int width.
	return Coord{
		Z: o.MaxZoom,
		X: c.X >> dz,
		Y: c.Y >> dz,
	}, dz
}
