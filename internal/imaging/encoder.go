package imaging

import (
	"fmt"
	"image"
	"strings"

	"vtileraster/internal/tileerr"
)

// Encoder turns one rendered tile into its wire format.
type Encoder interface {
	Encode(img *image.RGBA, format string) ([]byte, error)
}

// NormalizeFormat validates an output format name.
func NormalizeFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpeg", nil
	case "webp":
		return "webp", nil
	default:
		return "", tileerr.Errorf(tileerr.KindConfiguration, "imaging.NormalizeFormat", "unsupported format: %s", format)
	}
}

// CheckEncoder reports whether the encoder named kind can write format.
func CheckEncoder(kind, format string) error {
	f, err := NormalizeFormat(format)
	if err != nil {
		return err
	}
	switch kind {
	case "", "vips":
		return nil
	case "std":
		if f == "webp" {
			return tileerr.Errorf(tileerr.KindConfiguration, "imaging.CheckEncoder", "std encoder cannot write %s (use vips)", f)
		}
		return nil
	default:
		return tileerr.Errorf(tileerr.KindConfiguration, "imaging.CheckEncoder", "unknown image encoder: %s (supported: vips, std)", kind)
	}
}

// New returns the encoder named by kind.
func New(kind string) (Encoder, error) {
	switch kind {
	case "", "vips":
		return NewVipsEncoder(), nil
	case "std":
		return StdEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown image encoder: %s (supported: vips, std)", kind)
	}
}

// packRGBA returns img's pixels without row padding.
func packRGBA(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rowLen := w * 4
	if img.Stride == rowLen && len(img.Pix) == rowLen*h {
		return img.Pix
	}
	out := make([]byte, rowLen*h)
	for y := 0; y < h; y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*rowLen:(y+1)*rowLen], img.Pix[start:start+rowLen])
	}
	return out
}
