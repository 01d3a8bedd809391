package metatile

import (
	"errors"
	"testing"

	"vtileraster/internal/tileerr"
)

var sizes = []Size{1, 2, 4, 8}

func TestParseSize(t *testing.T) {
	for _, n := range []int{1, 2, 4, 8} {
		if _, err := ParseSize(n); err != nil {
			t.Errorf("ParseSize(%d) unexpected error: %v", n, err)
		}
	}
	for _, n := range []int{0, 3, 5, 16, -2} {
		_, err := ParseSize(n)
		if !errors.Is(err, tileerr.ErrConfiguration) {
			t.Errorf("ParseSize(%d) = %v, want configuration error", n, err)
		}
	}
}

func TestOriginAlignedAndIdempotent(t *testing.T) {
	for _, s := range sizes {
		n := int(s)
		for z := 0; z <= 6; z++ {
			for x := 0; x < 1<<z; x++ {
				for y := 0; y < 1<<z; y++ {
					c := Coord{Z: z, X: x, Y: y}
					o := s.Origin(c)
					if o.X%n != 0 || o.Y%n != 0 {
						t.Fatalf("size %d: origin %v of %v not aligned", n, o, c)
					}
					if again := s.Origin(o); again != o {
						t.Fatalf("size %d: Origin not idempotent: %v -> %v", n, o, again)
					}
					if o.X != x-x%n || o.Y != y-y%n {
						t.Fatalf("size %d: origin %v differs from x - x mod n for %v", n, o, c)
					}
					if o.Z != z {
						t.Fatalf("origin zoom changed: %v", o)
					}
				}
			}
		}
	}
}

func TestOriginLargeCoordinates(t *testing.T) {
	for _, s := range sizes {
		n := int(s)
		for _, v := range []int{1<<22 - 1, 1<<28 + 5, 1<<31 - 1, 987654321} {
			o := s.Origin(Coord{Z: 31, X: v, Y: v})
			if o.X != v-v%n || o.Y != v-v%n {
				t.Errorf("size %d: Origin(%d) = %d, want %d", n, v, o.X, v-v%n)
			}
		}
	}
}

func TestVirtual(t *testing.T) {
	tests := []struct {
		size Size
		in   Coord
		want Coord
	}{
		{1, Coord{5, 5, 12}, Coord{5, 5, 12}},
		{2, Coord{5, 5, 12}, Coord{4, 2, 6}},
		{4, Coord{5, 5, 12}, Coord{3, 1, 3}},
		{4, Coord{5, 4, 12}, Coord{3, 1, 3}},
		{8, Coord{10, 17, 1023}, Coord{7, 2, 127}},
	}
	for _, tt := range tests {
		if got := tt.size.Virtual(tt.in); got != tt.want {
			t.Errorf("Size(%d).Virtual(%v) = %v, want %v", tt.size, tt.in, got, tt.want)
		}
	}
}

func TestOffsetsDeterministic(t *testing.T) {
	got := Size(2).Offsets()
	want := []Offset{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Offsets()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(Size(8).Offsets()); n != 64 {
		t.Errorf("Size(8) has %d offsets, want 64", n)
	}
}

func TestMetatileScenario(t *testing.T) {
	s := Size(4)
	a := s.KeyFor(Coord{5, 5, 12}, false)
	b := s.KeyFor(Coord{5, 6, 13}, false)

	if a.Origin != (Coord{5, 4, 12}) {
		t.Fatalf("origin = %v, want 5/4/12", a.Origin)
	}
	if a != b {
		t.Fatalf("tiles of the same metatile got different keys: %v %v", a, b)
	}
	if off := s.Offset(Coord{5, 6, 13}); off != (Offset{2, 1}) {
		t.Fatalf("offset = %v, want 2,1", off)
	}
	if bypass := s.KeyFor(Coord{5, 5, 12}, true); bypass == a {
		t.Fatalf("bypass key must differ from normal key")
	}
}

func TestOverzoomResolve(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		in     Coord
		want   Coord
		wantDZ int
	}{
		{"unset", 0, Coord{18, 1000, 2000}, Coord{18, 1000, 2000}, 0},
		{"below max", 14, Coord{12, 7, 9}, Coord{12, 7, 9}, 0},
		{"at max", 14, Coord{14, 7, 9}, Coord{14, 7, 9}, 0},
		{"one level", 14, Coord{15, 7, 9}, Coord{14, 3, 4}, 1},
		{"three levels", 5, Coord{8, 37, 100}, Coord{5, 4, 12}, 3},
		{"beyond int width", 14, Coord{80, 0, 0}, Coord{14, 0, 0}, 66},
		{"deep far corner", 14, Coord{70, 1<<62 - 1, 1 << 61}, Coord{14, 63, 32}, 56},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dz := Overzoom{MaxZoom: tt.max}.Resolve(tt.in)
			if got != tt.want || dz != tt.wantDZ {
				t.Errorf("Resolve(%v) = %v, %d; want %v, %d", tt.in, got, dz, tt.want, tt.wantDZ)
			}
		})
	}
}
