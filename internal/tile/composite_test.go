package tile

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster/rastertest"
)

func record(name string, b orb.Bound, w, h int) catalog.Record {
	return catalog.Record{
		Filename: name,
		Left:     b.Min[0], Bottom: b.Min[1], Right: b.Max[0], Top: b.Max[1],
		Width: w, Height: h,
	}
}

func TestComposite_FinerSourceWins(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	// A: fine, left half only. B: coarse, whole tile. B is listed first so
	// resolution, not catalog order, decides.
	opener.Add("a.tif", rastertest.Constant(leftHalf(b), 16, 32, 1))
	opener.Add("b.tif", rastertest.Constant(b, 4, 4, 2))
	candidates := raster.SourcesFromRecords([]catalog.Record{
		record("b.tif", b, 4, 4),
		record("a.tif", leftHalf(b), 16, 32),
	})

	c := &Compositor{Opener: opener, Logger: zerolog.Nop()}
	g, failures, err := c.Composite(context.Background(), candidates, testTile, 8)
	if err != nil || len(failures) != 0 {
		t.Fatalf("err=%v failures=%v", err, failures)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := 2.0
			if x < 4 {
				want = 1
			}
			if got := g.At(x, y); got != want {
				t.Errorf("(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestComposite_TiesKeepCatalogOrder(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("first.tif", rastertest.Constant(b, 8, 8, 1))
	opener.Add("second.tif", rastertest.Constant(b, 8, 8, 2))
	candidates := raster.SourcesFromRecords([]catalog.Record{
		record("first.tif", b, 8, 8),
		record("second.tif", b, 8, 8),
	})

	c := &Compositor{Opener: opener, Logger: zerolog.Nop()}
	g, _, err := c.Composite(context.Background(), candidates, testTile, 8)
	if err != nil {
		t.Fatal(err)
	}
	if g.At(3, 3) != 1 {
		t.Errorf("At(3,3) = %v, want 1 from the first source", g.At(3, 3))
	}
	// The tile was full after the first source.
	if opener.Opens() != 1 {
		t.Errorf("opened %d sources, want 1", opener.Opens())
	}
}

func TestComposite_ByIndex(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("coarse.tif", rastertest.Constant(b, 2, 2, 1))
	opener.Add("fine.tif", rastertest.Constant(b, 16, 16, 2))
	candidates := raster.SourcesFromRecords([]catalog.Record{
		record("coarse.tif", b, 2, 2),
		record("fine.tif", b, 16, 16),
	})

	c := &Compositor{Opener: opener, Priority: ByIndex, Logger: zerolog.Nop()}
	g, _, err := c.Composite(context.Background(), candidates, testTile, 8)
	if err != nil {
		t.Fatal(err)
	}
	if g.At(4, 4) != 1 {
		t.Errorf("At(4,4) = %v, want 1 from the first-listed source", g.At(4, 4))
	}
}

func TestComposite_SkipsFailedSources(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Fail("broken.tif", errors.New("bad magic"))
	opener.Add("good.tif", rastertest.Constant(b, 8, 8, 7))
	candidates := raster.SourcesFromRecords([]catalog.Record{
		record("broken.tif", b, 64, 64),
		record("good.tif", b, 8, 8),
	})

	c := &Compositor{Opener: opener, Logger: zerolog.Nop()}
	g, failures, err := c.Composite(context.Background(), candidates, testTile, 8)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if !g.Full() || g.At(0, 0) != 7 {
		t.Errorf("grid not filled from the good source: defined=%d", g.Defined())
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1", failures)
	}
	f := failures[0]
	if f.Source != "broken.tif" || f.Tile != testTile || !errors.Is(f, raster.ErrSourceUnreadable) {
		t.Errorf("failure = %+v", f)
	}
}

func TestComposite_NoCandidates(t *testing.T) {
	c := &Compositor{Opener: rastertest.NewOpener(), Logger: zerolog.Nop()}
	g, failures, err := c.Composite(context.Background(), nil, testTile, 4)
	if err != nil || len(failures) != 0 {
		t.Fatalf("err=%v failures=%v", err, failures)
	}
	if !g.Empty() {
		t.Errorf("defined = %d, want 0", g.Defined())
	}
	for _, v := range g.Values {
		if !math.IsNaN(v) {
			t.Fatalf("value %v, want NaN", v)
		}
	}
}

func TestComposite_Cancelled(t *testing.T) {
	b := tileBound(t, testTile)
	opener := rastertest.NewOpener()
	opener.Add("a.tif", rastertest.Constant(b, 8, 8, 1))
	candidates := raster.SourcesFromRecords([]catalog.Record{record("a.tif", b, 8, 8)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Compositor{Opener: opener, Logger: zerolog.Nop()}
	if _, _, err := c.Composite(ctx, candidates, testTile, 8); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPriorityByName(t *testing.T) {
	for _, name := range []string{"", "resolution", "index"} {
		if _, err := PriorityByName(name); err != nil {
			t.Errorf("%q: %v", name, err)
		}
	}
	if _, err := PriorityByName("newest"); err == nil {
		t.Error("unknown priority accepted")
	}
}
