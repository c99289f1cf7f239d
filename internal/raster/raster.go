// Package raster gives the tile pipeline uniform, read-only access to
// elevation grids regardless of their on-disk format.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
)

// ErrSourceUnreadable is returned when a source cannot be opened or decoded.
var ErrSourceUnreadable = errors.New("source unreadable")

// GeoTransform maps pixel corners to planar coordinates, in GDAL order:
// originX, pixelWidth, rotationX, originY, rotationY, -pixelHeight.
type GeoTransform [6]float64

// NewGeoTransform returns a north-up transform with its origin at the
// upper-left corner of pixel (0, 0).
func NewGeoTransform(originX, originY, pixelWidth, pixelHeight float64) GeoTransform {
	return GeoTransform{originX, pixelWidth, 0, originY, 0, -pixelHeight}
}

// PixelSize returns the positive pixel width and height.
func (g GeoTransform) PixelSize() (w, h float64) {
	return g[1], -g[5]
}

// Validate rejects rotated or degenerate grids.
func (g GeoTransform) Validate() error {
	if g[2] != 0 || g[4] != 0 {
		return fmt.Errorf("rotated geotransform %v not supported", g)
	}
	if !(g[1] > 0) || !(g[5] < 0) {
		return fmt.Errorf("geotransform %v is not north-up with positive pixel size", g)
	}
	return nil
}

// ToPixel returns the continuous pixel position of a planar point, measured
// from the upper-left corner of the grid.
func (g GeoTransform) ToPixel(x, y float64) (px, py float64) {
	return (x - g[0]) / g[1], (y - g[3]) / g[5]
}

// ToPlanar is the inverse of ToPixel.
func (g GeoTransform) ToPlanar(px, py float64) (x, y float64) {
	return g[0] + px*g[1], g[3] + py*g[5]
}

// Scaled returns the transform of a level whose pixels are sx by sy times
// larger.
func (g GeoTransform) Scaled(sx, sy float64) GeoTransform {
	return GeoTransform{g[0], g[1] * sx, 0, g[3], 0, g[5] * sy}
}

// Level is one resolution of a source: full resolution or an overview.
type Level struct {
	Width     int
	Height    int
	Transform GeoTransform
}

// Info describes a source grid.
type Info struct {
	Width     int
	Height    int
	Transform GeoTransform
	NoData    float64
	HasNoData bool
	// EPSG of the native CRS. Zero means unknown, and the grid is taken to
	// be in the catalog's Web Mercator coordinates already.
	EPSG int
	// Levels lists reduced-resolution overviews, finest first.
	Levels []Level
}

// NumLevels returns the number of levels including full resolution.
func (i Info) NumLevels() int {
	return 1 + len(i.Levels)
}

// Level returns level n, where 0 is full resolution.
func (i Info) Level(n int) Level {
	if n == 0 {
		return Level{Width: i.Width, Height: i.Height, Transform: i.Transform}
	}
	return i.Levels[n-1]
}

// LevelFor returns the coarsest level whose pixel width is not coarser
// than pixelSize (native CRS units), so sampling never loses detail the
// output could show. Full resolution is used when every level is coarser.
func (i Info) LevelFor(pixelSize float64) int {
	best := 0
	bestWidth := 0.0
	limit := pixelSize * (1 + levelTolerance)
	for n := 0; n < i.NumLevels(); n++ {
		w, _ := i.Level(n).Transform.PixelSize()
		if w <= limit && w > bestWidth {
			best, bestWidth = n, w
		}
	}
	return best
}

// levelTolerance absorbs rounding in overview pixel sizes derived from
// integer level dimensions.
const levelTolerance = 1e-9

// Bounds returns the extent of the grid in its native CRS.
func (i Info) Bounds() orb.Bound {
	x0, y0 := i.Transform.ToPlanar(0, 0)
	x1, y1 := i.Transform.ToPlanar(float64(i.Width), float64(i.Height))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// IsNoData reports whether v is missing: NaN or the nodata sentinel.
func (i Info) IsNoData(v float32) bool {
	if v != v {
		return true
	}
	return i.HasNoData && v == float32(i.NoData)
}

// Window is a rectangle of pixel values read from one level.
type Window struct {
	// Rect is in the pixel coordinates of the level it was read from.
	Rect   image.Rectangle
	Values []float32
}

// At returns the value at level pixel (x, y), which must lie inside Rect.
func (w *Window) At(x, y int) float32 {
	return w.Values[(y-w.Rect.Min.Y)*w.Rect.Dx()+(x-w.Rect.Min.X)]
}

// Source is an open elevation grid. Implementations are safe for
// concurrent reads.
type Source interface {
	Info() Info
	// ReadWindow reads r from level, which must lie inside the level.
	ReadWindow(ctx context.Context, level int, r image.Rectangle) (*Window, error)
	Close() error
}

// Opener opens sources by catalog filename.
type Opener interface {
	Open(ctx context.Context, name string) (Source, error)
}

// SourceRaster is one catalog entry as seen by the pipeline. Index is the
// entry's position in the catalog and breaks priority ties.
type SourceRaster struct {
	Record catalog.Record
	Index  int
}

// Name returns the catalog filename.
func (s SourceRaster) Name() string {
	return s.Record.Filename
}

// SourcesFromRecords numbers records in catalog order.
func SourcesFromRecords(records []catalog.Record) []SourceRaster {
	out := make([]SourceRaster, len(records))
	for i, r := range records {
		out[i] = SourceRaster{Record: r, Index: i}
	}
	return out
}

// checkWindow validates a read request against a level.
func checkWindow(info Info, level int, r image.Rectangle) error {
	if level < 0 || level >= info.NumLevels() {
		return fmt.Errorf("level %d out of range (have %d)", level, info.NumLevels())
	}
	lvl := info.Level(level)
	full := image.Rect(0, 0, lvl.Width, lvl.Height)
	if r.Empty() || !r.In(full) {
		return fmt.Errorf("window %v outside level %d bounds %v", r, level, full)
	}
	return nil
}

// unreadable wraps err so it matches ErrSourceUnreadable.
func unreadable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, name, err)
}
