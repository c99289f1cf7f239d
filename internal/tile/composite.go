package tile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
	"github.com/pspoerri/terrarium2pmtiles/internal/metrics"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

// PriorityFunc reports whether a should be composited before b.
type PriorityFunc func(a, b raster.SourceRaster) bool

// ByResolution puts finer sources first. Equal resolutions keep catalog
// order.
func ByResolution(a, b raster.SourceRaster) bool {
	ra, rb := a.Record.Resolution(), b.Record.Resolution()
	if ra != rb {
		return ra < rb
	}
	return a.Index < b.Index
}

// ByIndex ranks sources by catalog order alone, for catalogs sorted by hand.
func ByIndex(a, b raster.SourceRaster) bool {
	return a.Index < b.Index
}

// PriorityByName returns the priority rule called name.
func PriorityByName(name string) (PriorityFunc, error) {
	switch name {
	case "resolution", "":
		return ByResolution, nil
	case "index":
		return ByIndex, nil
	default:
		return nil, fmt.Errorf("unknown priority %q", name)
	}
}

// SourceFailure records a source skipped while compositing a tile.
type SourceFailure struct {
	Source string
	Tile   maptile.Tile
	Err    error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("source %s at %d/%d/%d: %v", f.Source, f.Tile.Z, f.Tile.X, f.Tile.Y, f.Err)
}

func (f SourceFailure) Unwrap() error { return f.Err }

// Compositor merges overlapping sources into one tile grid.
type Compositor struct {
	Opener   raster.Opener
	Priority PriorityFunc
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Composite fills a size x size grid for t from candidates in priority
// order. A cell takes its value from the first source that defines it and
// is never overwritten afterwards; compositing stops once the grid is full.
//
// Sources that fail to open or read are skipped, logged, and returned as
// failures. The error is non-nil only for an invalid tile or a cancelled
// context.
func (c *Compositor) Composite(ctx context.Context, candidates []raster.SourceRaster, t maptile.Tile, size int) (*ElevationGrid, []SourceFailure, error) {
	target, err := coord.BoundsForTile(t)
	if err != nil {
		return nil, nil, err
	}

	priority := c.Priority
	if priority == nil {
		priority = ByResolution
	}
	ordered := append([]raster.SourceRaster(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return priority(ordered[i], ordered[j]) })

	grid := NewElevationGrid(size)
	var failures []SourceFailure
	for _, s := range ordered {
		if grid.Full() {
			break
		}
		if err := ctx.Err(); err != nil {
			grid.Release()
			return nil, failures, err
		}

		sampled, err := c.sample(ctx, s.Name(), target, size)
		if err != nil {
			if ctx.Err() != nil {
				grid.Release()
				return nil, failures, ctx.Err()
			}
			f := SourceFailure{Source: s.Name(), Tile: t, Err: err}
			failures = append(failures, f)
			c.Metrics.SourceFailure()
			c.Logger.Warn().
				Str("source", f.Source).
				Uint32("z", uint32(t.Z)).Uint32("x", t.X).Uint32("y", t.Y).
				Err(err).
				Msg("skipping source")
			continue
		}
		grid.Fill(sampled)
		sampled.Release()
	}
	return grid, failures, nil
}

func (c *Compositor) sample(ctx context.Context, name string, target orb.Bound, size int) (*ElevationGrid, error) {
	src, err := c.Opener.Open(ctx, name)
	if err != nil {
		if !errors.Is(err, raster.ErrSourceUnreadable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", raster.ErrSourceUnreadable, err)
		}
		return nil, err
	}
	defer src.Close()
	return Sample(ctx, src, target, size)
}
