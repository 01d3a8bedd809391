package metatile

import "fmt"

// Bypass tags whether a request asked to skip caches.
type Bypass uint8

const (
	BypassOff Bypass = iota
	BypassOn
)

func BypassFrom(skip bool) Bypass {
	if skip {
		return BypassOn
	}
	return BypassOff
}

func (b Bypass) Enabled() bool {
	return b == BypassOn
}

func (b Bypass) String() string {
	if b == BypassOn {
		return "bypass"
	}
	return "cached"
}

// Key identifies one metatile build. Requests with a different Bypass value
// never share an entry.
type Key struct {
	Origin Coord
	Bypass Bypass
}

// KeyFor builds the cache key for the metatile containing c.
func (s Size) KeyFor(c Coord, bypass bool) Key {
	return Key{Origin: s.Origin(c), Bypass: BypassFrom(bypass)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%s]", k.Origin, k.Bypass)
}
