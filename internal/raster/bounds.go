package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
)

// densifyPoints is the number of points sampled along each edge when
// reprojecting bounds, so curved edges are not cut short.
const densifyPoints = 21

// maxMercatorLat is the latitude at which Web Mercator reaches OriginShift.
const maxMercatorLat = 85.0511287798066

// MercatorBounds returns the EPSG:3857 extent of a source.
func MercatorBounds(info Info) (orb.Bound, error) {
	native := info.Bounds()
	if coord.IsWebMercator(info.EPSG) {
		return native, nil
	}
	proj := coord.ForEPSG(info.EPSG)
	if proj == nil {
		return orb.Bound{}, fmt.Errorf("unsupported CRS EPSG:%d", info.EPSG)
	}

	merc := &coord.WebMercatorProj{}
	out := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	add := func(x, y float64) {
		lon, lat := proj.ToWGS84(x, y)
		lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
		mx, my := merc.FromWGS84(lon, lat)
		out = out.Extend(orb.Point{mx, my})
	}
	for i := 0; i < densifyPoints; i++ {
		f := float64(i) / (densifyPoints - 1)
		x := native.Min[0] + f*(native.Max[0]-native.Min[0])
		y := native.Min[1] + f*(native.Max[1]-native.Min[1])
		add(x, native.Min[1])
		add(x, native.Max[1])
		add(native.Min[0], y)
		add(native.Max[0], y)
	}
	for _, v := range []float64{out.Min[0], out.Min[1], out.Max[0], out.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return orb.Bound{}, fmt.Errorf("reprojected bounds are not finite: %v", out)
		}
	}
	return out, nil
}

// RecordFor builds the catalog row for an open source.
func RecordFor(name string, src Source) (catalog.Record, error) {
	info := src.Info()
	b, err := MercatorBounds(info)
	if err != nil {
		return catalog.Record{}, fmt.Errorf("%s: %w", name, err)
	}
	rec := catalog.Record{
		Filename: name,
		Left:     b.Min[0],
		Bottom:   b.Min[1],
		Right:    b.Max[0],
		Top:      b.Max[1],
		Width:    info.Width,
		Height:   info.Height,
	}
	return rec, rec.Validate()
}
