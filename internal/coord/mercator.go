package coord

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthCircumference is the equatorial circumference in meters at zoom 0.
	EarthCircumference = 40075016.685578488
	// OriginShift is half the earth's circumference: the Web Mercator extent
	// runs from -OriginShift to +OriginShift on both axes.
	OriginShift = EarthCircumference / 2.0
)

// WorldBound is the full planar extent of EPSG:3857.
var WorldBound = orb.Bound{
	Min: orb.Point{-OriginShift, -OriginShift},
	Max: orb.Point{OriginShift, OriginShift},
}

// WebMercatorProj implements the Projection interface for EPSG:3857.
type WebMercatorProj struct{}

func (w *WebMercatorProj) EPSG() int { return 3857 }

func (w *WebMercatorProj) ToWGS84(x, y float64) (lon, lat float64) {
	lon = (x / OriginShift) * 180.0
	lat = (y / OriginShift) * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return
}

func (w *WebMercatorProj) FromWGS84(lon, lat float64) (x, y float64) {
	x = lon * OriginShift / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * OriginShift / 180.0
	return
}

// TileSpan returns the planar width (and height) of one tile at zoom z.
func TileSpan(z int) float64 {
	return EarthCircumference / math.Exp2(float64(z))
}

// PixelSize returns the planar size of one output pixel at zoom z for the
// given tile size in pixels.
func PixelSize(z, tileSize int) float64 {
	return TileSpan(z) / float64(tileSize)
}

// BoundToWGS84 converts a planar Web Mercator bound into a lon/lat bound.
func BoundToWGS84(b orb.Bound) orb.Bound {
	var p WebMercatorProj
	minLon, minLat := p.ToWGS84(b.Min[0], b.Min[1])
	maxLon, maxLat := p.ToWGS84(b.Max[0], b.Max[1])
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

// MaxZoomForResolution returns the deepest zoom whose output pixel is still
// at least as large as pixelSize (planar meters), for the given tile size.
func MaxZoomForResolution(pixelSize float64, tileSize int) int {
	if pixelSize <= 0 {
		return 0
	}
	for z := MaxZoom; z >= 0; z-- {
		if PixelSize(z, tileSize) >= pixelSize {
			return z
		}
	}
	return 0
}
