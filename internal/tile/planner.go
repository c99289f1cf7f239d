// Package tile turns a bounds catalog into Terrarium tiles: it plans the
// tiles of every zoom, composites their sources, and hands encoded tiles
// to an archive.
package tile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
	"github.com/pspoerri/terrarium2pmtiles/internal/encode"
	"github.com/pspoerri/terrarium2pmtiles/internal/metrics"
	"github.com/pspoerri/terrarium2pmtiles/internal/pmtiles"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

// ErrNoSourceData is returned when the catalog lists no sources.
var ErrNoSourceData = errors.New("no source data")

// Archive receives encoded tiles (implemented by pmtiles.Writer).
type Archive interface {
	Put(z, x, y int, data []byte) error
	Finalize(meta pmtiles.Metadata) error
}

// Config holds tile generation configuration. It is copied into the
// Planner and never changed during a run.
type Config struct {
	MinZoom     int
	MaxZoom     int
	TileSize    int
	Concurrency int
	Encoder     encode.Encoder
	Priority    PriorityFunc
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	// Progress receives a per-zoom progress bar. Nil disables it.
	Progress io.Writer
	// Metadata supplies the descriptive archive attributes. Zoom range,
	// bounds, and tile type are filled in from the run.
	Metadata pmtiles.Metadata
}

// TileFailure is a tile that could not be produced.
type TileFailure struct {
	Tile maptile.Tile
	Err  error
}

func (f TileFailure) Error() string {
	return fmt.Sprintf("tile %d/%d/%d: %v", f.Tile.Z, f.Tile.X, f.Tile.Y, f.Err)
}

func (f TileFailure) Unwrap() error { return f.Err }

// Summary reports the outcome of a run.
type Summary struct {
	Emitted      int64
	Empty        int64
	Failed       int64
	SourceErrors int64
	Bytes        int64
	Failures     []TileFailure
	// MinZoom and MaxZoom span the zooms that received tiles; both are -1
	// when nothing was emitted.
	MinZoom int
	MaxZoom int
	// Bounds is the lon/lat union of the emitted tiles.
	Bounds orb.Bound
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d emitted, %d empty, %d failed, %d source errors, %.1f MB",
		s.Emitted, s.Empty, s.Failed, s.SourceErrors, float64(s.Bytes)/(1024*1024))
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n  %v", f)
	}
	return b.String()
}

// Planner drives the pipeline over the (zoom, tile) product of a catalog.
type Planner struct {
	cfg        Config
	compositor *Compositor
}

// NewPlanner validates cfg and returns a planner reading through opener.
func NewPlanner(cfg Config, opener raster.Opener) (*Planner, error) {
	if cfg.MinZoom < 0 || cfg.MaxZoom > coord.MaxZoom || cfg.MinZoom > cfg.MaxZoom {
		return nil, fmt.Errorf("invalid zoom range %d-%d", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("invalid tile size %d", cfg.TileSize)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Encoder == nil {
		return nil, errors.New("no tile encoder configured")
	}
	if cfg.Priority == nil {
		cfg.Priority = ByResolution
	}
	if opener == nil {
		return nil, errors.New("no raster opener configured")
	}
	return &Planner{
		cfg: cfg,
		compositor: &Compositor{
			Opener:   opener,
			Priority: cfg.Priority,
			Logger:   cfg.Logger,
			Metrics:  cfg.Metrics,
		},
	}, nil
}

// TilesForZoom returns the union of the tiles touched by every source at
// zoom z, ordered along the Hilbert curve.
func TilesForZoom(sources []raster.SourceRaster, z int) ([]maptile.Tile, error) {
	set := make(maptile.Set)
	for _, s := range sources {
		tiles, err := coord.TilesForBounds(s.Record.Bound(), z)
		if err != nil {
			return nil, err
		}
		for _, t := range tiles {
			set[t] = true
		}
	}
	tiles := make([]maptile.Tile, 0, len(set))
	for t := range set {
		tiles = append(tiles, t)
	}
	// Map iteration is random; fix the order before the curve sort so runs
	// are reproducible.
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Y != tiles[j].Y {
			return tiles[i].Y < tiles[j].Y
		}
		return tiles[i].X < tiles[j].X
	})
	coord.SortTilesByHilbert(tiles)
	return tiles, nil
}

// candidatesFor returns the sources whose extent overlaps tile bound b.
func candidatesFor(sources []raster.SourceRaster, b orb.Bound) []raster.SourceRaster {
	var out []raster.SourceRaster
	for _, s := range sources {
		if coord.Overlaps(s.Record.Bound(), b) {
			out = append(out, s)
		}
	}
	return out
}

// runState collects results from the workers of a run.
type runState struct {
	emitted, empty, failed, sourceErrs, bytes atomic.Int64

	mu       sync.Mutex
	failures []TileFailure
	bounds   orb.Bound
	hasTiles bool
	minZoom  int
	maxZoom  int
}

func (s *runState) addTile(t maptile.Tile, b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTiles {
		s.bounds = b
		s.minZoom, s.maxZoom = int(t.Z), int(t.Z)
		s.hasTiles = true
		return
	}
	s.bounds = s.bounds.Union(b)
	if int(t.Z) < s.minZoom {
		s.minZoom = int(t.Z)
	}
	if int(t.Z) > s.maxZoom {
		s.maxZoom = int(t.Z)
	}
}

func (s *runState) addFailure(f TileFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
}

func (s *runState) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Emitted:      s.emitted.Load(),
		Empty:        s.empty.Load(),
		Failed:       s.failed.Load(),
		SourceErrors: s.sourceErrs.Load(),
		Bytes:        s.bytes.Load(),
		Failures:     append([]TileFailure(nil), s.failures...),
		MinZoom:      -1,
		MaxZoom:      -1,
	}
	if s.hasTiles {
		sum.MinZoom, sum.MaxZoom = s.minZoom, s.maxZoom
		sum.Bounds = coord.BoundToWGS84(s.bounds)
	}
	return sum
}

// Run produces every non-empty tile for records across the configured
// zoom range, writes them to archive, and finalizes it.
//
// Tiles that fail to encode (for example ErrElevationOutOfRange) are
// recorded in the summary without stopping the run. Archive errors and
// cancellation abort it.
func (p *Planner) Run(ctx context.Context, records []catalog.Record, archive Archive) (Summary, error) {
	if len(records) == 0 {
		return Summary{MinZoom: -1, MaxZoom: -1}, ErrNoSourceData
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return Summary{MinZoom: -1, MaxZoom: -1}, err
		}
	}
	sources := raster.SourcesFromRecords(records)
	log := p.cfg.Logger

	state := &runState{}
	for z := p.cfg.MinZoom; z <= p.cfg.MaxZoom; z++ {
		tiles, err := TilesForZoom(sources, z)
		if err != nil {
			return state.summary(), err
		}
		p.cfg.Metrics.SetZoom(z)
		log.Info().Int("zoom", z).Int("tiles", len(tiles)).Msg("zoom started")
		if len(tiles) == 0 {
			continue
		}

		start := time.Now()
		if err := p.runZoom(ctx, z, tiles, sources, archive, state); err != nil {
			return state.summary(), err
		}
		log.Info().
			Int("zoom", z).
			Int64("emitted", state.emitted.Load()).
			Dur("elapsed", time.Since(start)).
			Msg("zoom completed")
	}

	sum := state.summary()
	meta := p.cfg.Metadata
	meta.TileType = p.cfg.Encoder.PMTileType()
	meta.TileSize = p.cfg.TileSize
	meta.MinZoom, meta.MaxZoom = sum.MinZoom, sum.MaxZoom
	if !state.hasTiles {
		meta.MinZoom, meta.MaxZoom = p.cfg.MinZoom, p.cfg.MaxZoom
	}
	meta.Bounds = sum.Bounds
	if err := archive.Finalize(meta); err != nil {
		return sum, fmt.Errorf("finalizing archive: %w", err)
	}
	return sum, nil
}

func (p *Planner) runZoom(ctx context.Context, z int, tiles []maptile.Tile, sources []raster.SourceRaster, archive Archive, state *runState) error {
	var bar *progressBar
	if p.cfg.Progress != nil {
		bar = newProgressBar(p.cfg.Progress, fmt.Sprintf("Zoom %2d", z), int64(len(tiles)))
		defer bar.Finish()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := p.processTile(gctx, t, sources, archive, state)
			if bar != nil {
				bar.Increment()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// processTile resolves one tile to emitted, empty, or failed. Only archive
// and context errors are returned.
func (p *Planner) processTile(ctx context.Context, t maptile.Tile, sources []raster.SourceRaster, archive Archive, state *runState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { p.cfg.Metrics.ObserveRender(time.Since(start)) }()

	bound, err := coord.BoundsForTile(t)
	if err != nil {
		return err
	}

	candidates := candidatesFor(sources, bound)
	if len(candidates) == 0 {
		state.empty.Add(1)
		p.cfg.Metrics.Tile(metrics.OutcomeEmpty)
		return nil
	}

	grid, failures, err := p.compositor.Composite(ctx, candidates, t, p.cfg.TileSize)
	state.sourceErrs.Add(int64(len(failures)))
	if err != nil {
		return err
	}
	defer grid.Release()

	if grid.Empty() {
		state.empty.Add(1)
		p.cfg.Metrics.Tile(metrics.OutcomeEmpty)
		return nil
	}

	data, err := p.encode(grid, int(t.Z))
	if err != nil {
		f := TileFailure{Tile: t, Err: err}
		state.failed.Add(1)
		state.addFailure(f)
		p.cfg.Metrics.Tile(metrics.OutcomeFailed)
		p.cfg.Logger.Error().
			Uint32("z", uint32(t.Z)).Uint32("x", t.X).Uint32("y", t.Y).
			Err(err).
			Msg("tile failed")
		return nil
	}

	if err := archive.Put(int(t.Z), int(t.X), int(t.Y), data); err != nil {
		return fmt.Errorf("writing tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	state.emitted.Add(1)
	state.bytes.Add(int64(len(data)))
	state.addTile(t, bound)
	p.cfg.Metrics.Tile(metrics.OutcomeEmitted)
	p.cfg.Metrics.AddBytes(len(data))
	return nil
}

// encode rounds the grid to the zoom's vertical precision and encodes it.
func (p *Planner) encode(grid *ElevationGrid, z int) ([]byte, error) {
	img, err := encode.TerrariumImage(grid.Values, grid.Size, z)
	if err != nil {
		return nil, err
	}
	data, err := p.cfg.Encoder.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", p.cfg.Encoder.Format(), err)
	}
	return data, nil
}
