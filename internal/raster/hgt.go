package raster

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// hgtVoid marks a data void in SRTM tiles.
const hgtVoid = -32768

// OpenHGT loads an SRTM height tile (.hgt, or a .hgt.zip holding one).
// Tiles are named by their lower-left corner, e.g. N46E007, and hold
// big-endian int16 samples on a one or three arc-second lattice that
// overlaps neighbouring tiles by one row and column.
func OpenHGT(path string) (Source, error) {
	lon, lat, err := parseHGTName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	var data []byte
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		data, err = readZippedHGT(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return newHGT(lon, lat, data)
}

func newHGT(lon, lat int, data []byte) (Source, error) {
	n := int(math.Sqrt(float64(len(data) / 2)))
	if n < 2 || n*n*2 != len(data) {
		return nil, fmt.Errorf("hgt: %d bytes is not a square int16 lattice", len(data))
	}

	values := make([]float32, n*n)
	for i := range values {
		v := int16(binary.BigEndian.Uint16(data[2*i:]))
		if v == hgtVoid {
			values[i] = float32(math.NaN())
			continue
		}
		values[i] = float32(v)
	}

	// Samples sit on whole-degree lines, so pixel centres are offset from
	// the tile corner by half a step.
	step := 1 / float64(n-1)
	info := Info{
		Width:     n,
		Height:    n,
		Transform: NewGeoTransform(float64(lon)-step/2, float64(lat+1)+step/2, step, step),
		NoData:    hgtVoid,
		HasNoData: true,
		EPSG:      4326,
	}
	return NewGrid(info, values)
}

// parseHGTName extracts the lower-left corner from names like S33W071.hgt.
func parseHGTName(name string) (lon, lat int, err error) {
	var ns, ew string
	if _, err := fmt.Sscanf(strings.ToUpper(name), "%1s%d%1s%d", &ns, &lat, &ew, &lon); err != nil {
		return 0, 0, fmt.Errorf("hgt: cannot parse tile name %q: %w", name, err)
	}
	switch ns {
	case "N":
	case "S":
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("hgt: bad latitude hemisphere in %q", name)
	}
	switch ew {
	case "E":
	case "W":
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("hgt: bad longitude hemisphere in %q", name)
	}
	return lon, lat, nil
}

func readZippedHGT(path string) ([]byte, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer z.Close()

	for _, f := range z.File {
		if strings.HasPrefix(filepath.Base(f.Name), ".") || !strings.HasSuffix(strings.ToLower(f.Name), ".hgt") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		return data, err
	}
	return nil, fmt.Errorf("%s: no .hgt file in archive", path)
}
