package tile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
	"github.com/pspoerri/terrarium2pmtiles/internal/encode"
	"github.com/pspoerri/terrarium2pmtiles/internal/pmtiles"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster/rastertest"
)

// memArchive collects tiles in memory and rejects duplicate keys.
type memArchive struct {
	mu        sync.Mutex
	tiles     map[maptile.Tile][]byte
	meta      *pmtiles.Metadata
	failAfter int
}

func newMemArchive() *memArchive {
	return &memArchive{tiles: map[maptile.Tile][]byte{}, failAfter: -1}
}

func (a *memArchive) Put(z, x, y int, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAfter >= 0 && len(a.tiles) >= a.failAfter {
		return errors.New("disk full")
	}
	t := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	if _, ok := a.tiles[t]; ok {
		return fmt.Errorf("duplicate tile %v", t)
	}
	a.tiles[t] = data
	return nil
}

func (a *memArchive) Finalize(meta pmtiles.Metadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta = &meta
	return nil
}

func testConfig(minZoom, maxZoom, size int) Config {
	return Config{
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		TileSize:    size,
		Concurrency: 4,
		Encoder:     &encode.PNGEncoder{},
		Logger:      zerolog.Nop(),
		Metadata:    pmtiles.Metadata{Attribution: "test"},
	}
}

func runPlanner(t *testing.T, cfg Config, opener raster.Opener, records []catalog.Record) (Summary, *memArchive) {
	t.Helper()
	p, err := NewPlanner(cfg, opener)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	archive := newMemArchive()
	sum, err := p.Run(context.Background(), records, archive)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum, archive
}

func TestPlanner_EndToEndSingleTile(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("dem.tif", rastertest.Constant(b, 64, 64, 100))

	sum, archive := runPlanner(t, testConfig(10, 10, 512), opener,
		[]catalog.Record{record("dem.tif", b, 64, 64)})

	if sum.Emitted != 1 || sum.Empty != 0 || sum.Failed != 0 {
		t.Fatalf("summary = %v", sum)
	}
	if len(archive.tiles) != 1 {
		t.Fatalf("archive holds %d tiles, want 1", len(archive.tiles))
	}
	data, ok := archive.tiles[testTile]
	if !ok {
		t.Fatalf("tile %v missing; have %v", testTile, archive.tiles)
	}

	values, size, err := encode.DecodeElevations(data, "png")
	if err != nil {
		t.Fatal(err)
	}
	if size != 512 {
		t.Fatalf("decoded size %d", size)
	}
	factor := encode.VerticalRoundingFactor(10)
	for i, v := range values {
		if math.IsNaN(v) || math.Abs(v-100) > factor {
			t.Fatalf("pixel %d = %v, want 100 +- %v", i, v, factor)
		}
	}

	if archive.meta == nil {
		t.Fatal("archive not finalized")
	}
	m := archive.meta
	if m.MinZoom != 10 || m.MaxZoom != 10 || m.TileSize != 512 || m.Attribution != "test" {
		t.Errorf("metadata = %+v", m)
	}
	want := coord.BoundToWGS84(b)
	if math.Abs(m.Bounds.Min[0]-want.Min[0]) > 1e-9 || math.Abs(m.Bounds.Max[1]-want.Max[1]) > 1e-9 {
		t.Errorf("bounds = %v, want %v", m.Bounds, want)
	}
}

func TestPlanner_MultiZoom(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("dem.tif", rastertest.Constant(b, 32, 32, 250))

	sum, archive := runPlanner(t, testConfig(9, 11, 16), opener,
		[]catalog.Record{record("dem.tif", b, 32, 32)})

	// z9: the parent, z10: the tile itself, z11: its four children.
	if sum.Emitted != 6 || len(archive.tiles) != 6 {
		t.Fatalf("emitted %d (archive %d), want 6", sum.Emitted, len(archive.tiles))
	}
	if _, ok := archive.tiles[testTile.Parent()]; !ok {
		t.Error("parent tile missing")
	}
	for _, c := range testTile.Children() {
		if _, ok := archive.tiles[c]; !ok {
			t.Errorf("child %v missing", c)
		}
	}
	if sum.MinZoom != 9 || sum.MaxZoom != 11 {
		t.Errorf("zoom span = %d-%d", sum.MinZoom, sum.MaxZoom)
	}

	// The parent is only partly covered; the rest stays transparent.
	values, _, err := encode.DecodeElevations(archive.tiles[testTile.Parent()], "png")
	if err != nil {
		t.Fatal(err)
	}
	var defined int
	for _, v := range values {
		if !math.IsNaN(v) {
			defined++
		}
	}
	if defined != len(values)/4 {
		t.Errorf("parent has %d defined pixels, want %d", defined, len(values)/4)
	}
}

func TestPlanner_EmptyTilesAreDropped(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("voids.tif", rastertest.Constant(b, 8, 8, float32(math.NaN())))

	sum, archive := runPlanner(t, testConfig(10, 10, 8), opener,
		[]catalog.Record{record("voids.tif", b, 8, 8)})

	if sum.Emitted != 0 || sum.Empty != 1 || len(archive.tiles) != 0 {
		t.Errorf("summary = %v, archive = %d tiles", sum, len(archive.tiles))
	}
	if archive.meta == nil || archive.meta.MinZoom != 10 {
		t.Errorf("metadata = %+v", archive.meta)
	}
	if sum.MinZoom != -1 {
		t.Errorf("MinZoom = %d, want -1", sum.MinZoom)
	}
}

func TestPlanner_NoSourceData(t *testing.T) {
	p, err := NewPlanner(testConfig(10, 10, 8), rastertest.NewOpener())
	if err != nil {
		t.Fatal(err)
	}
	archive := newMemArchive()
	if _, err := p.Run(context.Background(), nil, archive); !errors.Is(err, ErrNoSourceData) {
		t.Errorf("err = %v, want ErrNoSourceData", err)
	}
	if archive.meta != nil {
		t.Error("archive finalized without data")
	}
}

func TestPlanner_OutOfRangeFailsTileOnly(t *testing.T) {
	b := tileBound(t, testTile)
	right := tileBound(t, maptile.New(testTile.X+1, testTile.Y, testTile.Z))
	opener := rastertest.NewOpener()
	opener.Add("high.tif", rastertest.Constant(b, 8, 8, 40000))
	opener.Add("ok.tif", rastertest.Constant(right, 8, 8, 1200))

	sum, archive := runPlanner(t, testConfig(10, 10, 8), opener, []catalog.Record{
		record("high.tif", b, 8, 8),
		record("ok.tif", right, 8, 8),
	})

	if sum.Failed != 1 || sum.Emitted != 1 || len(archive.tiles) != 1 {
		t.Fatalf("summary = %v", sum)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Tile != testTile ||
		!errors.Is(sum.Failures[0], encode.ErrElevationOutOfRange) {
		t.Errorf("failures = %v", sum.Failures)
	}
	if _, ok := archive.tiles[testTile]; ok {
		t.Error("failed tile was written")
	}
}

func TestPlanner_SourceErrorsAreCounted(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Fail("missing.tif", errors.New("no such file"))
	opener.Add("dem.tif", rastertest.Constant(b, 8, 8, 3))

	pool := raster.NewPool(opener, zerolog.Nop())
	defer pool.Close()
	sum, archive := runPlanner(t, testConfig(10, 11, 8), pool, []catalog.Record{
		record("missing.tif", b, 16, 16),
		record("dem.tif", b, 8, 8),
	})

	// One failure per tile that listed the broken source.
	if sum.SourceErrors != 5 || sum.Emitted != 5 || len(archive.tiles) != 5 {
		t.Errorf("summary = %v", sum)
	}
	if n := opener.Opens(); n != 2 {
		t.Errorf("opener called %d times, want 2", n)
	}
}

func TestPlanner_ArchiveErrorAborts(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("dem.tif", rastertest.Constant(b, 8, 8, 3))

	p, err := NewPlanner(testConfig(10, 12, 8), opener)
	if err != nil {
		t.Fatal(err)
	}
	archive := newMemArchive()
	archive.failAfter = 2
	if _, err := p.Run(context.Background(), []catalog.Record{record("dem.tif", b, 8, 8)}, archive); err == nil {
		t.Fatal("expected archive error")
	}
	if archive.meta != nil {
		t.Error("archive finalized after a write error")
	}
}

func TestPlanner_Cancelled(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("dem.tif", rastertest.Constant(b, 8, 8, 3))

	p, err := NewPlanner(testConfig(10, 10, 8), opener)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, []catalog.Record{record("dem.tif", b, 8, 8)}, newMemArchive())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewPlanner_Validation(t *testing.T) {
	opener := rastertest.NewOpener()
	bad := []Config{
		testConfig(12, 10, 8),
		testConfig(-1, 10, 8),
		testConfig(10, 10, 0),
	}
	noEncoder := testConfig(10, 10, 8)
	noEncoder.Encoder = nil
	bad = append(bad, noEncoder)

	for i, cfg := range bad {
		if _, err := NewPlanner(cfg, opener); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
	if _, err := NewPlanner(testConfig(10, 10, 8), nil); err == nil {
		t.Error("nil opener accepted")
	}
}

func TestTilesForZoom_Union(t *testing.T) {
	a := tileBound(t, testTile)
	b := tileBound(t, maptile.New(testTile.X+1, testTile.Y, testTile.Z))
	both := orb.Bound{Min: a.Min, Max: b.Max}
	sources := raster.SourcesFromRecords([]catalog.Record{
		record("a", a, 1, 1),
		record("b", b, 1, 1),
		record("ab", both, 2, 1),
	})

	tiles, err := TilesForZoom(sources, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 2 {
		t.Errorf("tiles = %v, want 2 distinct", tiles)
	}
}

func TestSuggestZoomRange(t *testing.T) {
	b := tileBound(t, testTile)
	minZ, maxZ := SuggestZoomRange([]catalog.Record{
		record("coarse", b, 64, 64),
		record("fine", b, 2000, 2000),
	}, 512)
	// Just coarser than z12 pixels at 512 px per tile.
	if maxZ != 11 || minZ != 5 {
		t.Errorf("zoom range = %d-%d, want 5-11", minZ, maxZ)
	}
	if minZ, maxZ := SuggestZoomRange(nil, 512); minZ != 0 || maxZ != 0 {
		t.Errorf("empty catalog = %d-%d", minZ, maxZ)
	}
}
