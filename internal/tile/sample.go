package tile

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

// Sample resamples src onto a size x size grid covering target, a planar
// EPSG:3857 box. Cell (i, j) is centred on (left+(i+0.5)res, top-(j+0.5)res).
//
// Values are interpolated bilinearly between source pixel centres, with
// neighbours clamped at the raster edge. A cell is left undefined when it
// falls outside the source or when any pixel carrying weight in its
// footprint is nodata.
func Sample(ctx context.Context, src raster.Source, target orb.Bound, size int) (*ElevationGrid, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid grid size %d", size)
	}
	info := src.Info()

	pts, err := sourcePoints(info.EPSG, target, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", raster.ErrSourceUnreadable, err)
	}

	level := info.LevelFor(pts.resolution())
	lvl := info.Level(level)

	// Continuous pixel positions, measured from the level's corner.
	n := size * size
	px := make([]float64, n)
	py := make([]float64, n)
	inside := make([]bool, n)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			x, y := pts.at(i, j)
			cx, cy := lvl.Transform.ToPixel(x, y)
			if !(cx >= 0 && cx < float64(lvl.Width) && cy >= 0 && cy < float64(lvl.Height)) {
				continue
			}
			k := j*size + i
			px[k], py[k], inside[k] = cx, cy, true
			minX, maxX = math.Min(minX, cx), math.Max(maxX, cx)
			minY, maxY = math.Min(minY, cy), math.Max(maxY, cy)
		}
	}

	grid := NewElevationGrid(size)
	if math.IsInf(minX, 1) {
		return grid, nil
	}

	// Window of pixel centres around the footprints, one pixel of padding.
	win := image.Rect(
		int(math.Floor(minX-0.5))-1, int(math.Floor(minY-0.5))-1,
		int(math.Floor(maxX-0.5))+3, int(math.Floor(maxY-0.5))+3,
	).Intersect(image.Rect(0, 0, lvl.Width, lvl.Height))

	window, err := src.ReadWindow(ctx, level, win)
	if err != nil {
		grid.Release()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", raster.ErrSourceUnreadable, err)
	}

	for k := 0; k < n; k++ {
		if !inside[k] {
			continue
		}
		if v, ok := bilinear(window, info, lvl, px[k]-0.5, py[k]-0.5); ok {
			grid.Set(k%size, k/size, v)
		}
	}
	return grid, nil
}

// snapEpsilon is the distance, in source pixels, within which a position
// counts as lying exactly on a pixel centre.
const snapEpsilon = 1e-9

// bilinear interpolates at centre-based pixel position (fx, fy).
func bilinear(w *raster.Window, info raster.Info, lvl raster.Level, fx, fy float64) (float64, bool) {
	fx, fy = snap(fx), snap(fy)
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)
	x1 := clamp(x0+1, 0, lvl.Width-1)
	y1 := clamp(y0+1, 0, lvl.Height-1)
	x0 = clamp(x0, 0, lvl.Width-1)
	y0 = clamp(y0, 0, lvl.Height-1)

	taps := [4]struct {
		x, y int
		w    float64
	}{
		{x0, y0, (1 - dx) * (1 - dy)},
		{x1, y0, dx * (1 - dy)},
		{x0, y1, (1 - dx) * dy},
		{x1, y1, dx * dy},
	}
	var sum float64
	for _, t := range taps {
		if t.w == 0 {
			continue
		}
		v := w.At(t.x, t.y)
		if info.IsNoData(v) {
			return 0, false
		}
		sum += t.w * float64(v)
	}
	return sum, true
}

// snap removes floating point noise so aligned grids put all weight on one
// pixel instead of leaking a vanishing weight onto its neighbour.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// points holds output cell centres in a source's native CRS. Separable
// layouts store one x per column and one y per row.
type points struct {
	size      int
	xs, ys    []float64
	separable bool
}

func (p *points) at(i, j int) (x, y float64) {
	if p.separable {
		return p.xs[i], p.ys[j]
	}
	k := j*p.size + i
	return p.xs[k], p.ys[k]
}

// resolution estimates the spacing of the cell centres in native units.
func (p *points) resolution() float64 {
	if p.size < 2 {
		return math.Inf(1)
	}
	x0, _ := p.at(0, p.size/2)
	x1, _ := p.at(p.size-1, p.size/2)
	return math.Abs(x1-x0) / float64(p.size-1)
}

// sourcePoints carries the cell centres of target into the CRS given by
// epsg. Web Mercator and lon/lat sources keep columns and rows independent.
func sourcePoints(epsg int, target orb.Bound, size int) (*points, error) {
	res := (target.Max[0] - target.Min[0]) / float64(size)
	mx := make([]float64, size)
	my := make([]float64, size)
	for i := 0; i < size; i++ {
		mx[i] = target.Min[0] + (float64(i)+0.5)*res
		my[i] = target.Max[1] - (float64(i)+0.5)*res
	}
	if coord.IsWebMercator(epsg) {
		return &points{size: size, xs: mx, ys: my, separable: true}, nil
	}

	proj := coord.ForEPSG(epsg)
	if proj == nil {
		return nil, fmt.Errorf("unsupported CRS EPSG:%d", epsg)
	}
	merc := &coord.WebMercatorProj{}

	if proj.EPSG() == 4326 {
		for i := 0; i < size; i++ {
			mx[i], _ = merc.ToWGS84(mx[i], 0)
			_, my[i] = merc.ToWGS84(0, my[i])
		}
		return &points{size: size, xs: mx, ys: my, separable: true}, nil
	}

	xs := make([]float64, size*size)
	ys := make([]float64, size*size)
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			lon, lat := merc.ToWGS84(mx[i], my[j])
			xs[j*size+i], ys[j*size+i] = proj.FromWGS84(lon, lat)
		}
	}
	return &points{size: size, xs: xs, ys: ys}, nil
}
