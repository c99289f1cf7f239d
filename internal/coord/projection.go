package coord

// Projection converts between a source CRS and WGS84. The sampler uses it to
// carry output pixel centres into a source's native grid when that source is
// not already in Web Mercator.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch epsg {
	case 2056:
		return &SwissLV95{}
	case 4326:
		return &WGS84Identity{}
	case 3857, 3785, 900913:
		return &WebMercatorProj{}
	default:
		return nil
	}
}

// IsWebMercator reports whether coordinates in epsg can be used against the
// tile grid without reprojection. Zero means "unknown" and is trusted to be
// aligned already.
func IsWebMercator(epsg int) bool {
	switch epsg {
	case 0, 3857, 3785, 900913:
		return true
	}
	return false
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (w *WGS84Identity) EPSG() int                                 { return 4326 }

// SwissLV95 implements EPSG:2056 (CH1903+ / LV95) with swisstopo's published
// polynomial approximation, accurate to about a metre.
type SwissLV95 struct{}

func (s *SwissLV95) EPSG() int { return 2056 }

func (s *SwissLV95) ToWGS84(easting, northing float64) (lon, lat float64) {
	// Offsets from the Bern origin in units of 1000 km.
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	lonSec := 2.6779094 + 4.728982*y + 0.791484*y*x + 0.1306*y*x*x - 0.0436*y*y*y
	latSec := 16.9023892 + 3.238272*x - 0.270978*y*y - 0.002528*x*x - 0.0447*y*y*x - 0.0140*x*x*x

	// 10000" units to degrees.
	return lonSec * 100.0 / 36.0, latSec * 100.0 / 36.0
}

func (s *SwissLV95) FromWGS84(lon, lat float64) (easting, northing float64) {
	phi := (lat*3600 - 169028.66) / 10000
	lambda := (lon*3600 - 26782.5) / 10000

	easting = 2_600_072.37 +
		211_455.93*lambda -
		10_938.51*lambda*phi -
		0.36*lambda*phi*phi -
		44.54*lambda*lambda*lambda
	northing = 1_200_147.07 +
		308_807.95*phi +
		3_745.25*lambda*lambda +
		76.63*phi*phi -
		194.56*lambda*lambda*phi +
		119.79*phi*phi*phi
	return easting, northing
}
