package coord

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level the tile index accepts.
const MaxZoom = 30

// ErrInvalidTileCoordinate is returned for a negative or too deep zoom, or a
// column/row outside [0, 2^z).
var ErrInvalidTileCoordinate = errors.New("invalid tile coordinate")

// snapEpsilon is the minimum distance, in tile units, within which a grid
// position is treated as lying exactly on a tile boundary.
const snapEpsilon = 1e-9

// coordSlack is how many float64 steps at OriginShift a planar coordinate
// may be off after tile arithmetic.
const coordSlack = 16

// snapTolerance returns the snapping distance in tile units at zoom z. Deep
// zooms have tiles only a few metres wide, where the rounding error of a
// coordinate near the world edge is a sizeable share of a tile.
func snapTolerance(z int) float64 {
	return math.Max(snapEpsilon, coordSlack*ulp(OriginShift)/TileSpan(z))
}

// ulp returns the spacing between v and the next larger float64.
func ulp(v float64) float64 {
	v = math.Abs(v)
	return math.Nextafter(v, math.Inf(1)) - v
}

// BoundsForTile returns the planar EPSG:3857 extent of tile t.
func BoundsForTile(t maptile.Tile) (orb.Bound, error) {
	return TileBoundsPlanar(int(t.Z), int(t.X), int(t.Y))
}

// TileBoundsPlanar returns the planar extent of tile (z, x, y). Rows count
// downwards from the top of the world, so row 0 touches +OriginShift.
func TileBoundsPlanar(z, x, y int) (orb.Bound, error) {
	if err := validateTile(z, x, y); err != nil {
		return orb.Bound{}, err
	}
	span := TileSpan(z)
	left := -OriginShift + float64(x)*span
	top := OriginShift - float64(y)*span
	return orb.Bound{
		Min: orb.Point{left, top - span},
		Max: orb.Point{left + span, top},
	}, nil
}

// TilesForBounds returns every tile at zoom z whose extent intersects b.
//
// Tiles own the half-open box [left, right) x [bottom, top): a bbox edge lying
// exactly on a tile boundary belongs to the tile on its inner side, so the
// right and top edges of b are exclusive while left and bottom are inclusive.
// A bbox with zero width or height still covers the tiles its line or point
// falls in. The result is ordered row-major and contains no duplicates.
func TilesForBounds(b orb.Bound, z int) ([]maptile.Tile, error) {
	if z < 0 || z > MaxZoom {
		return nil, fmt.Errorf("%w: zoom %d outside [0, %d]", ErrInvalidTileCoordinate, z, MaxZoom)
	}
	if !b.Intersects(WorldBound) {
		return nil, nil
	}

	span := TileSpan(z)
	n := 1 << uint(z)
	eps := snapTolerance(z)

	minCol := int(math.Floor(snap((b.Min[0]+OriginShift)/span, eps)))
	maxCol := int(math.Ceil(snap((b.Max[0]+OriginShift)/span, eps))) - 1
	minRow := int(math.Floor(snap((OriginShift-b.Max[1])/span, eps)))
	maxRow := int(math.Ceil(snap((OriginShift-b.Min[1])/span, eps))) - 1

	// Degenerate extents still touch one column or row.
	if maxCol < minCol {
		maxCol = minCol
	}
	if maxRow < minRow {
		maxRow = minRow
	}

	minCol, maxCol = clampRange(minCol, maxCol, n)
	minRow, maxRow = clampRange(minRow, maxRow, n)
	if minCol > maxCol || minRow > maxRow {
		return nil, nil
	}

	tiles := make([]maptile.Tile, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for y := minRow; y <= maxRow; y++ {
		for x := minCol; x <= maxCol; x++ {
			tiles = append(tiles, maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
		}
	}
	return tiles, nil
}

// Overlaps reports whether two planar bounds share a region of positive area.
// Bounds that merely touch along an edge do not overlap.
func Overlaps(a, b orb.Bound) bool {
	return a.Min[0] < b.Max[0] && b.Min[0] < a.Max[0] &&
		a.Min[1] < b.Max[1] && b.Min[1] < a.Max[1]
}

func validateTile(z, x, y int) error {
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0, %d]", ErrInvalidTileCoordinate, z, MaxZoom)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return fmt.Errorf("%w: %d/%d/%d outside %dx%d grid", ErrInvalidTileCoordinate, z, x, y, n, n)
	}
	return nil
}

// snap pulls v onto the nearest integer when floating point error leaves it
// within eps of a tile boundary.
func snap(v, eps float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < eps {
		return r
	}
	return v
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}
