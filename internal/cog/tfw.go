package cog

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TFW holds the six parameters from a TIFF World File (.tfw).
//
// Line 1: pixel width
// Line 2: rotation about y-axis
// Line 3: rotation about x-axis
// Line 4: pixel height (negative for north-up)
// Line 5: x of the centre of the upper-left pixel
// Line 6: y of the centre of the upper-left pixel
type TFW struct {
	PixelSizeX float64
	RotationY  float64
	RotationX  float64
	PixelSizeY float64
	OriginX    float64
	OriginY    float64
}

// parseTFW reads a world file from the given path.
func parseTFW(path string) (*TFW, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading TFW %s: %w", path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return nil, fmt.Errorf("TFW %s: expected 6 values, got %d", path, len(fields))
	}

	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("TFW %s line %d: %w", path, i+1, err)
		}
		vals[i] = v
	}

	tfw := &TFW{
		PixelSizeX: vals[0],
		RotationY:  vals[1],
		RotationX:  vals[2],
		PixelSizeY: vals[3],
		OriginX:    vals[4],
		OriginY:    vals[5],
	}
	if tfw.RotationX != 0 || tfw.RotationY != 0 {
		return nil, fmt.Errorf("TFW %s: rotated world files are not supported (rotation: %g, %g)",
			path, tfw.RotationX, tfw.RotationY)
	}
	return tfw, nil
}

// findTFW looks for a world file next to the given TIFF path.
func findTFW(tiffPath string) string {
	base := strings.TrimSuffix(tiffPath, filepath.Ext(tiffPath))
	for _, ext := range []string{".tfw", ".TFW", ".tifw", ".TIFW"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// apply copies the world file grid into info. World files reference pixel
// centres; GeoInfo uses the outer corner.
func (tfw *TFW) apply(info *GeoInfo) {
	info.PixelSizeX = math.Abs(tfw.PixelSizeX)
	info.PixelSizeY = math.Abs(tfw.PixelSizeY)
	info.OriginX = tfw.OriginX - info.PixelSizeX/2
	info.OriginY = tfw.OriginY + info.PixelSizeY/2
}

// inferEPSG guesses the CRS of a world-file-only raster from its coordinate
// ranges: Swiss LV95, Web Mercator, or geographic lon/lat.
func inferEPSG(info GeoInfo, width, height uint32) int {
	maxX := info.OriginX + float64(width)*info.PixelSizeX
	minY := info.OriginY - float64(height)*info.PixelSizeY

	if info.OriginX >= -180 && maxX <= 360 && minY >= -90 && info.OriginY <= 90 {
		return 4326
	}
	if info.OriginX >= 2400000 && info.OriginX <= 2900000 &&
		info.OriginY >= 1000000 && info.OriginY <= 1400000 {
		return 2056
	}
	if math.Abs(info.OriginX) <= 20037508.35 && math.Abs(info.OriginY) <= 20048966.11 {
		return 3857
	}
	return 0
}
