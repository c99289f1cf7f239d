package raster_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/cog"
	"github.com/pspoerri/terrarium2pmtiles/internal/cog/cogtest"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster/rastertest"
)

func TestPool_SharesHandles(t *testing.T) {
	opener := rastertest.NewOpener()
	opener.Add("a.tif", rastertest.Constant(orb.Bound{Max: orb.Point{10, 10}}, 4, 4, 1))
	pool := raster.NewPool(opener, zerolog.Nop())
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src, err := pool.Open(context.Background(), "a.tif")
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			if _, err := src.ReadWindow(context.Background(), 0, image.Rect(0, 0, 2, 2)); err != nil {
				t.Errorf("ReadWindow: %v", err)
			}
			src.Close()
		}()
	}
	wg.Wait()

	if n := opener.Opens(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
	if pool.Len() != 1 {
		t.Errorf("Len = %d, want 1", pool.Len())
	}
}

func TestPool_RemembersFailures(t *testing.T) {
	opener := rastertest.NewOpener()
	opener.Fail("broken.tif", errors.New("truncated"))
	pool := raster.NewPool(opener, zerolog.Nop())
	defer pool.Close()

	for i := 0; i < 3; i++ {
		_, err := pool.Open(context.Background(), "broken.tif")
		if !errors.Is(err, raster.ErrSourceUnreadable) {
			t.Fatalf("err = %v, want ErrSourceUnreadable", err)
		}
	}
	if n := opener.Opens(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
}

func TestPool_CancelledOpenIsRetried(t *testing.T) {
	opener := rastertest.NewOpener()
	opener.Add("a.tif", rastertest.Constant(orb.Bound{Max: orb.Point{10, 10}}, 2, 2, 1))
	pool := raster.NewPool(opener, zerolog.Nop())
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Open(ctx, "a.tif"); err == nil {
		t.Fatal("cancelled open should fail")
	}
	if _, err := pool.Open(context.Background(), "a.tif"); err != nil {
		t.Fatalf("retry after cancel: %v", err)
	}
}

func TestPool_OpenAfterClose(t *testing.T) {
	opener := rastertest.NewOpener()
	opener.Add("a.tif", rastertest.Constant(orb.Bound{Max: orb.Point{10, 10}}, 2, 2, 1))
	pool := raster.NewPool(opener, zerolog.Nop())
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Open(context.Background(), "a.tif"); err == nil {
		t.Error("open after Close should fail")
	}
}

func TestFileOpener_Dispatch(t *testing.T) {
	dir := t.TempDir()

	if err := cogtest.Write(filepath.Join(dir, "a.tif"), cogtest.Raster{
		Width: 4, Height: 4, Data: make([]float32, 16),
	}, cogtest.Options{BlockWidth: 16, BlockHeight: 16, PixelSize: 10, EPSG: 3857}); err != nil {
		t.Fatal(err)
	}
	asc := "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n5\n"
	if err := os.WriteFile(filepath.Join(dir, "b.asc"), []byte(asc), 0o644); err != nil {
		t.Fatal(err)
	}

	cache, err := cog.NewBlockCache(16)
	if err != nil {
		t.Fatal(err)
	}
	opener := &raster.FileOpener{Dir: dir, Cache: cache}
	ctx := context.Background()

	tif, err := opener.Open(ctx, "a.tif")
	if err != nil {
		t.Fatalf("open tif: %v", err)
	}
	defer tif.Close()
	if w, _ := tif.Info().Transform.PixelSize(); w != 10 {
		t.Errorf("tif pixel size = %v", w)
	}

	grid, err := opener.Open(ctx, "b.asc")
	if err != nil {
		t.Fatalf("open asc: %v", err)
	}
	if grid.Info().Width != 1 {
		t.Errorf("asc width = %d", grid.Info().Width)
	}

	for _, name := range []string{"missing.tif", "notes.txt"} {
		if _, err := opener.Open(ctx, name); !errors.Is(err, raster.ErrSourceUnreadable) {
			t.Errorf("%s: err = %v, want ErrSourceUnreadable", name, err)
		}
	}
}

func TestOpenGeoTIFF_Overviews(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ov.tif")
	full := cogtest.Raster{Width: 32, Height: 32, Data: make([]float32, 32*32)}
	half := cogtest.Raster{Width: 16, Height: 16, Data: make([]float32, 16*16)}
	for i := range half.Data {
		half.Data[i] = 7
	}
	err := cogtest.Write(path, full, cogtest.Options{
		BlockWidth: 16, BlockHeight: 16, OriginX: 1000, OriginY: 2000, PixelSize: 5, EPSG: 3857,
		Overviews: []cogtest.Raster{half},
	})
	if err != nil {
		t.Fatal(err)
	}

	src, err := raster.OpenGeoTIFF(path, nil)
	if err != nil {
		t.Fatalf("OpenGeoTIFF: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.NumLevels() != 2 {
		t.Fatalf("NumLevels = %d, want 2", info.NumLevels())
	}
	if w, h := info.Level(1).Transform.PixelSize(); w != 10 || h != 10 {
		t.Errorf("overview pixel size = %vx%v, want 10x10", w, h)
	}
	if got := info.LevelFor(10); got != 1 {
		t.Errorf("LevelFor(10) = %d, want 1", got)
	}
	win, err := src.ReadWindow(context.Background(), 1, image.Rect(3, 3, 5, 5))
	if err != nil {
		t.Fatal(err)
	}
	if win.At(4, 4) != 7 {
		t.Errorf("overview value = %v, want 7", win.At(4, 4))
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"dem.tif":         true,
		"DEM.TIFF":        true,
		"grid.asc":        true,
		"N46E007.hgt":     true,
		"N46E007.hgt.zip": true,
		"bounds.csv":      false,
		"notes.zip":       false,
	} {
		if got := raster.Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}
