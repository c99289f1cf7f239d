package coord

import (
	"sort"

	"github.com/paulmach/orb/maptile"
)

// xyToHilbert converts (x, y) to a Hilbert curve index for an n x n grid.
// n must be a power of two.
func xyToHilbert(x, y, n uint64) uint64 {
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if x&s > 0 {
			rx = 1
		}
		if y&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		if ry == 0 {
			if rx == 1 {
				x = s*2 - 1 - x
				y = s*2 - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// SortTilesByHilbert orders tiles of a single zoom level along the Hilbert
// curve, so workers pulling from a shared queue touch neighbouring source
// windows back to back.
func SortTilesByHilbert(tiles []maptile.Tile) {
	if len(tiles) <= 1 {
		return
	}
	n := uint64(1) << uint(tiles[0].Z)

	indices := make([]uint64, len(tiles))
	for i, t := range tiles {
		indices[i] = xyToHilbert(uint64(t.X), uint64(t.Y), n)
	}
	sort.Sort(hilbertSorter{tiles: tiles, indices: indices})
}

type hilbertSorter struct {
	tiles   []maptile.Tile
	indices []uint64
}

func (s hilbertSorter) Len() int           { return len(s.tiles) }
func (s hilbertSorter) Less(i, j int) bool { return s.indices[i] < s.indices[j] }
func (s hilbertSorter) Swap(i, j int) {
	s.tiles[i], s.tiles[j] = s.tiles[j], s.tiles[i]
	s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
}
