package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/cshum/vipsgen/vips"
)

var ErrNotStarted = errors.New("image engine not started")

// VipsEncoder encodes through libvips. Startup must have been called.
type VipsEncoder struct {
	JpegQuality int
	WebpQuality int
}

func NewVipsEncoder() *VipsEncoder {
	return &VipsEncoder{JpegQuality: 82, WebpQuality: 80}
}

func (e *VipsEncoder) Encode(img *image.RGBA, format string) ([]byte, error) {
	if !Started() {
		return nil, ErrNotStarted
	}

	b := img.Bounds()
	vimg, err := vips.NewImageFromMemory(packRGBA(img), b.Dx(), b.Dy(), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to load pixels: %w", err)
	}
	defer vimg.Close()

	switch format {
	case "png":
		return vimg.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	case "jpeg":
		// JPEG has no alpha channel
		flattenOpts := vips.DefaultFlattenOptions()
		flattenOpts.Background = []float64{255, 255, 255}
		if err := vimg.Flatten(flattenOpts); err != nil {
			return nil, fmt.Errorf("failed to flatten: %w", err)
		}
		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = e.JpegQuality
		jpegOpts.Interlace = false
		return vimg.JpegsaveBuffer(jpegOpts)
	case "webp":
		webpOpts := vips.DefaultWebpsaveBufferOptions()
		webpOpts.Q = e.WebpQuality
		return vimg.WebpsaveBuffer(webpOpts)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
