package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/gen2brain/webp"
)

// DecodeImage decodes tile bytes in the given container format.
func DecodeImage(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case "png":
		return png.Decode(r)
	case "webp":
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported decode format: %q", format)
	}
}

// DecodeElevations decodes a Terrarium tile back into row-major elevations,
// with NaN for no-data pixels.
func DecodeElevations(data []byte, format string) ([]float64, int, error) {
	img, err := DecodeImage(data, format)
	if err != nil {
		return nil, 0, err
	}
	rgba := toRGBA(img)
	size := rgba.Rect.Dx()
	if rgba.Rect.Dy() != size {
		return nil, 0, fmt.Errorf("tile is %dx%d, want a square tile", size, rgba.Rect.Dy())
	}
	return ImageToElevations(rgba), size, nil
}

// toRGBA converts an image.Image to *image.RGBA, copying only when needed.
// Decoders return NRGBA for images with alpha; fully opaque and fully
// transparent pixels are identical in both models, which is all a Terrarium
// tile contains.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	return rgba
}
