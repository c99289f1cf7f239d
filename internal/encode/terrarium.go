package encode

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

const (
	// FullResolutionZoom is the zoom at which Terrarium's finest step (1/256 m)
	// is used. Every zoom above it rounds the same way.
	FullResolutionZoom = 19

	terrariumOffset = 32768.0
	terrariumRange  = 65536.0
)

// ErrElevationOutOfRange is returned when a value cannot be represented in
// Terrarium's [-32768, 32768) metre range. Values are never clipped.
var ErrElevationOutOfRange = errors.New("elevation out of terrarium range")

// NoDataColor marks pixels without elevation. Every encoded elevation is fully
// opaque, so the transparent sentinel cannot collide with real data.
var NoDataColor = color.RGBA{}

// VerticalRoundingFactor returns the quantisation step in metres applied at
// the given zoom: 2^(19-z)/256, i.e. 2048 m at z0 halving per level down to
// 1/256 m at z19. Zooms outside [0, 19] are clamped.
func VerticalRoundingFactor(zoom int) float64 {
	if zoom < 0 {
		zoom = 0
	}
	if zoom > FullResolutionZoom {
		zoom = FullResolutionZoom
	}
	return math.Exp2(float64(FullResolutionZoom-zoom)) / 256
}

// RoundElevation quantises v to the zoom's rounding factor. Halves round to
// even so repeated runs over the same data are stable.
func RoundElevation(v float64, zoom int) float64 {
	f := VerticalRoundingFactor(zoom)
	return math.RoundToEven(v/f) * f
}

// ElevationToTerrarium converts an elevation in metres to Terrarium RGB.
// Terrarium formula: elevation = (R * 256 + G + B / 256) - 32768.
// NaN maps to NoDataColor.
func ElevationToTerrarium(elevation float64) (color.RGBA, error) {
	if math.IsNaN(elevation) {
		return NoDataColor, nil
	}

	value := elevation + terrariumOffset
	if !(value >= 0 && value < terrariumRange) {
		return color.RGBA{}, fmt.Errorf("%w: %g m", ErrElevationOutOfRange, elevation)
	}

	whole := math.Floor(value)
	r := int(math.Floor(value/256)) % 256
	g := int(whole) % 256
	b := int(math.Floor((value-whole)*256)) % 256

	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}, nil
}

// TerrariumToElevation converts Terrarium RGB values back to elevation.
// Returns NaN if the pixel is transparent (nodata).
func TerrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256.0 + float64(c.G) + float64(c.B)/256.0 - terrariumOffset
}

// TerrariumImage rounds every defined value of a size×size row-major grid to
// the zoom's vertical precision and encodes it. NaN cells become NoDataColor.
// The first value outside the encodable range fails the whole tile.
func TerrariumImage(values []float64, size, zoom int) (*image.RGBA, error) {
	if len(values) != size*size {
		return nil, fmt.Errorf("grid has %d values, want %d", len(values), size*size)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		row := values[y*size : (y+1)*size]
		off := y * img.Stride
		for x, v := range row {
			if math.IsNaN(v) {
				continue
			}
			c, err := ElevationToTerrarium(RoundElevation(v, zoom))
			if err != nil {
				return nil, fmt.Errorf("pixel (%d,%d): %w", x, y, err)
			}
			p := img.Pix[off+x*4 : off+x*4+4 : off+x*4+4]
			p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
		}
	}
	return img, nil
}

// ImageToElevations decodes every pixel of a Terrarium image, row-major.
func ImageToElevations(img *image.RGBA) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		i := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			out = append(out, TerrariumToElevation(color.RGBA{
				R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: img.Pix[i+3],
			}))
			i += 4
		}
	}
	return out
}
