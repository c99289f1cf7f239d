package tile

import (
	"math"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
)

// SuggestZoomRange derives a zoom range from the finest source in records:
// the max zoom is the deepest level whose pixels are no finer than that
// source, the min zoom six levels above it.
func SuggestZoomRange(records []catalog.Record, tileSize int) (minZoom, maxZoom int) {
	finest := math.Inf(1)
	for _, r := range records {
		if res := r.Resolution(); res > 0 && res < finest {
			finest = res
		}
	}
	if math.IsInf(finest, 1) {
		return 0, 0
	}
	maxZoom = coord.MaxZoomForResolution(finest, tileSize)
	minZoom = maxZoom - 6
	if minZoom < 0 {
		minZoom = 0
	}
	return
}
