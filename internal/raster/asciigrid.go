package raster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// OpenASCIIGrid loads an Esri ASCII grid (.asc). The format carries no CRS,
// so the caller supplies epsg (zero when the grid is already in the
// catalog's Web Mercator coordinates).
func OpenASCIIGrid(path string, epsg int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, values, err := ReadASCIIGrid(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	info.EPSG = epsg
	return NewGrid(info, values)
}

// ReadASCIIGrid parses an Esri ASCII grid: a header of key/value lines
// (ncols, nrows, xllcorner|xllcenter, yllcorner|yllcenter, cellsize or
// dx/dy, optional nodata_value) followed by nrows lines of ncols values.
func ReadASCIIGrid(r io.Reader) (Info, []float32, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = sc.Text()
			break
		}
		if !sc.Scan() {
			return Info{}, nil, fmt.Errorf("header key %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return Info{}, nil, fmt.Errorf("header %s: %w", key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return Info{}, nil, err
	}

	ncols, nrows := int(header["ncols"]), int(header["nrows"])
	if ncols <= 0 || nrows <= 0 {
		return Info{}, nil, fmt.Errorf("invalid grid size %dx%d", ncols, nrows)
	}

	dx, dy := header["cellsize"], header["cellsize"]
	if v, ok := header["dx"]; ok {
		dx = v
	}
	if v, ok := header["dy"]; ok {
		dy = v
	}
	if !(dx > 0) || !(dy > 0) {
		return Info{}, nil, fmt.Errorf("invalid cell size %gx%g", dx, dy)
	}

	left, okX := header["xllcorner"]
	if !okX {
		c, ok := header["xllcenter"]
		if !ok {
			return Info{}, nil, fmt.Errorf("missing xllcorner/xllcenter")
		}
		left = c - dx/2
	}
	bottom, okY := header["yllcorner"]
	if !okY {
		c, ok := header["yllcenter"]
		if !ok {
			return Info{}, nil, fmt.Errorf("missing yllcorner/yllcenter")
		}
		bottom = c - dy/2
	}

	info := Info{
		Width:     ncols,
		Height:    nrows,
		Transform: NewGeoTransform(left, bottom+float64(nrows)*dy, dx, dy),
	}
	if v, ok := header["nodata_value"]; ok {
		info.NoData, info.HasNoData = v, true
	}

	values := make([]float32, 0, ncols*nrows)
	tok := first
	for tok != "" {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return Info{}, nil, fmt.Errorf("value %d: %w", len(values), err)
		}
		values = append(values, float32(v))
		tok = ""
		if sc.Scan() {
			tok = sc.Text()
		}
	}
	if err := sc.Err(); err != nil {
		return Info{}, nil, err
	}
	if len(values) != ncols*nrows {
		return Info{}, nil, fmt.Errorf("got %d values, want %dx%d", len(values), ncols, nrows)
	}
	return info, values, nil
}
