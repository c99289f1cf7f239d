package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster/rastertest"
)

const goodGrid = `ncols 2
nrows 2
xllcorner 1000
yllcorner 2000
cellsize 10
NODATA_value -9999
1 2
3 4
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanSources_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_good.asc", goodGrid)
	writeFile(t, dir, "b_corrupt.tif", "II*\x00garbage")
	writeFile(t, dir, "c_empty.asc", "")
	writeFile(t, dir, "notes.txt", "ignored")

	names, err := listSources(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a_good.asc", "b_corrupt.tif", "c_empty.asc"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("listSources = %v, want %v", names, want)
	}

	res, err := scanSources(context.Background(), &raster.FileOpener{Dir: dir}, names, 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("scanSources: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %+v, want one", res.Records)
	}
	rec := res.Records[0]
	if rec.Filename != "a_good.asc" || rec.Left != 1000 || rec.Bottom != 2000 ||
		rec.Right != 1020 || rec.Top != 2020 || rec.Width != 2 || rec.Height != 2 {
		t.Errorf("record = %+v", rec)
	}
	if want := []string{"b_corrupt.tif", "c_empty.asc"}; !reflect.DeepEqual(res.Skipped, want) {
		t.Errorf("skipped = %v, want %v", res.Skipped, want)
	}
}

func TestScanSources_SkipsInvalidRecords(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}
	opener := rastertest.NewOpener()
	opener.Add("first.tif", rastertest.Constant(b, 4, 4, 1))
	opener.Add("third.tif", rastertest.Constant(b, 8, 8, 1))

	// A UTM grid has no projection to Web Mercator, so no bounds row.
	utm := rastertest.Constant(b, 4, 4, 1).Info()
	utm.EPSG = 32632
	grid, err := raster.NewGrid(utm, make([]float32, 16))
	if err != nil {
		t.Fatal(err)
	}
	opener.Add("second.tif", grid)
	opener.Fail("fourth.tif", errors.New("truncated"))

	res, err := scanSources(context.Background(), opener,
		[]string{"first.tif", "second.tif", "third.tif", "fourth.tif"}, 4, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range res.Records {
		got = append(got, r.Filename)
	}
	if want := []string{"first.tif", "third.tif"}; !reflect.DeepEqual(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
	if want := []string{"fourth.tif", "second.tif"}; !reflect.DeepEqual(res.Skipped, want) {
		t.Errorf("skipped = %v, want %v", res.Skipped, want)
	}
}

func TestScanSources_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opener := rastertest.NewOpener()
	opener.Add("a.tif", rastertest.Constant(orb.Bound{Max: orb.Point{1, 1}}, 1, 1, 1))

	if _, err := scanSources(ctx, opener, []string{"a.tif"}, 1, zerolog.Nop()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
