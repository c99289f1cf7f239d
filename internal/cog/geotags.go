package cog

// GeoTIFF GeoKey IDs.
const (
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072

	rasterPixelIsPoint = 2
)

// GeoInfo holds parsed GeoTIFF georeferencing and nodata metadata.
type GeoInfo struct {
	EPSG       int     // EPSG code (e.g. 2056), 0 if unknown
	OriginX    float64 // x of the upper-left corner
	OriginY    float64 // y of the upper-left corner
	PixelSizeX float64 // pixel width in CRS units (positive)
	PixelSizeY float64 // pixel height in CRS units (positive)
	NoData     float64
	HasNoData  bool
}

// Georeferenced reports whether a pixel grid was found.
func (g GeoInfo) Georeferenced() bool {
	return g.PixelSizeX > 0 && g.PixelSizeY > 0
}

// parseGeoInfo extracts geographic metadata from an IFD.
func parseGeoInfo(ifd *IFD) GeoInfo {
	info := GeoInfo{}

	// ModelPixelScale: [ScaleX, ScaleY, ScaleZ]
	if len(ifd.ModelPixelScale) >= 2 {
		info.PixelSizeX = ifd.ModelPixelScale[0]
		info.PixelSizeY = ifd.ModelPixelScale[1]
	}

	// ModelTiepoint: [I, J, K, X, Y, Z] maps pixel (I,J) to world (X,Y).
	if len(ifd.ModelTiepoint) >= 6 {
		info.OriginX = ifd.ModelTiepoint[3] - ifd.ModelTiepoint[0]*info.PixelSizeX
		info.OriginY = ifd.ModelTiepoint[4] + ifd.ModelTiepoint[1]*info.PixelSizeY
	}

	keys := geoKeyValues(ifd.GeoKeys)
	if keys[gkRasterTypeGeoKey] == rasterPixelIsPoint {
		// Tiepoint refers to the pixel centre; move it to the corner.
		info.OriginX -= info.PixelSizeX / 2
		info.OriginY += info.PixelSizeY / 2
	}
	if v := keys[gkProjectedCSTypeGeoKey]; v > 0 && v != 32767 {
		info.EPSG = int(v)
	} else if v := keys[gkGeographicTypeGeoKey]; v > 0 && v != 32767 {
		info.EPSG = int(v)
	}

	info.NoData, info.HasNoData = parseNoData(ifd.NoData)
	return info
}

// geoKeyValues returns the inline SHORT values of the GeoKey directory.
// Keys stored in the double or ASCII params are skipped.
func geoKeyValues(geoKeys []uint16) map[uint16]uint16 {
	out := make(map[uint16]uint16)
	if len(geoKeys) < 4 {
		return out
	}

	// Header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		if location := geoKeys[base+1]; location != 0 {
			continue
		}
		out[geoKeys[base]] = geoKeys[base+3]
	}
	return out
}
