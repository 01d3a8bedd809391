package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"vtileraster/internal/tileerr"
)

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{"": "png", "PNG": "png", "jpg": "jpeg", "jpeg": "jpeg", "webp": "webp"}
	for in, want := range tests {
		got, err := NormalizeFormat(in)
		if err != nil || got != want {
			t.Errorf("NormalizeFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeFormat("gif"); !errors.Is(err, tileerr.ErrConfiguration) {
		t.Errorf("gif should be a configuration error, got %v", err)
	}
}

func TestCheckEncoder(t *testing.T) {
	tests := []struct {
		kind, format string
		ok           bool
	}{
		{"vips", "webp", true},
		{"", "png", true},
		{"std", "png", true},
		{"std", "jpg", true},
		{"std", "webp", false},
		{"std", "gif", false},
		{"magick", "png", false},
	}
	for _, tt := range tests {
		err := CheckEncoder(tt.kind, tt.format)
		if tt.ok && err != nil {
			t.Errorf("CheckEncoder(%q, %q) = %v", tt.kind, tt.format, err)
		}
		if !tt.ok && !errors.Is(err, tileerr.ErrConfiguration) {
			t.Errorf("CheckEncoder(%q, %q) = %v, want configuration error", tt.kind, tt.format, err)
		}
	}
}

func TestPackRGBASubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(2, 3, color.RGBA{1, 2, 3, 4})
	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*image.RGBA)

	pix := packRGBA(sub)
	if len(pix) != 2*2*4 {
		t.Fatalf("len = %d", len(pix))
	}
	// (2,3) is (0,1) inside the sub image.
	if !bytes.Equal(pix[8:12], []byte{1, 2, 3, 4}) {
		t.Errorf("pixel = %v", pix[8:12])
	}
}

func TestStdEncoderPNGRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(5, 6, color.RGBA{200, 10, 20, 255})
	sub := img.SubImage(image.Rect(4, 4, 8, 8)).(*image.RGBA)

	data, err := StdEncoder{}.Encode(sub, "png")
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds().Dx() != 4 || decoded.Bounds().Dy() != 4 {
		t.Fatalf("bounds = %v", decoded.Bounds())
	}
	r, g, b, a := decoded.At(decoded.Bounds().Min.X+1, decoded.Bounds().Min.Y+2).RGBA()
	if r>>8 != 200 || g>>8 != 10 || b>>8 != 20 || a>>8 != 255 {
		t.Errorf("pixel = %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
	if _, err := (StdEncoder{}).Encode(sub, "webp"); err == nil {
		t.Errorf("webp is not supported by the std encoder")
	}
}

func TestVipsEncoderRequiresStartup(t *testing.T) {
	if Started() {
		t.Skip("engine already started")
	}
	_, err := NewVipsEncoder().Encode(image.NewRGBA(image.Rect(0, 0, 1, 1)), "png")
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}
