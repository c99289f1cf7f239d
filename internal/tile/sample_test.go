package tile

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/pspoerri/terrarium2pmtiles/internal/coord"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster/rastertest"
)

var testTile = maptile.New(512, 523, 10)

func tileBound(t *testing.T, tl maptile.Tile) orb.Bound {
	t.Helper()
	b, err := coord.BoundsForTile(tl)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func leftHalf(b orb.Bound) orb.Bound {
	return orb.Bound{Min: b.Min, Max: orb.Point{(b.Min[0] + b.Max[0]) / 2, b.Max[1]}}
}

func TestSample_ConstantCoversTile(t *testing.T) {
	b := tileBound(t, testTile)
	src := rastertest.Constant(b, 32, 32, 100)

	g, err := Sample(context.Background(), src, b, 16)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !g.Full() {
		t.Fatalf("defined %d of %d", g.Defined(), len(g.Values))
	}
	for i, v := range g.Values {
		if v != 100 {
			t.Fatalf("cell %d = %v, want 100", i, v)
		}
	}
}

func TestSample_PartialCoverage(t *testing.T) {
	b := tileBound(t, testTile)
	src := rastertest.Constant(leftHalf(b), 8, 16, 5)

	g, err := Sample(context.Background(), src, b, 8)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := g.At(x, y)
			if x < 4 && v != 5 {
				t.Errorf("(%d,%d) = %v, want 5", x, y, v)
			}
			if x >= 4 && !math.IsNaN(v) {
				t.Errorf("(%d,%d) = %v, want nodata", x, y, v)
			}
		}
	}
}

func TestSample_BilinearBetweenCentres(t *testing.T) {
	b := tileBound(t, testTile)
	// Twice the output resolution; value = source column.
	src := rastertest.Fill(b, 16, 16, func(x, _ int) float32 { return float32(x) })

	g, err := Sample(context.Background(), src, b, 8)
	if err != nil {
		t.Fatal(err)
	}
	for x := 0; x < 8; x++ {
		want := float64(2*x) + 0.5
		if got := g.At(x, 3); math.Abs(got-want) > 1e-6 {
			t.Errorf("column %d = %v, want %v", x, got, want)
		}
	}
}

func TestSample_NodataInFootprint(t *testing.T) {
	b := tileBound(t, testTile)

	tests := []struct {
		name   string
		pixels int
		// output columns expected to be nodata when source column 5 is
		want []int
	}{
		// Cell centres fall between source columns 2x and 2x+1.
		{"twice finer", 16, []int{2}},
		// Aligned grids put all weight on one pixel.
		{"aligned", 8, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := rastertest.Fill(b, tt.pixels, tt.pixels, func(x, _ int) float32 {
				if x == 5 {
					return -9999
				}
				return 10
			})
			info := grid.Info()
			info.NoData, info.HasNoData = -9999, true
			values := make([]float32, tt.pixels*tt.pixels)
			w, _ := grid.ReadWindow(context.Background(), 0, image.Rect(0, 0, tt.pixels, tt.pixels))
			copy(values, w.Values)
			src, err := raster.NewGrid(info, values)
			if err != nil {
				t.Fatal(err)
			}

			g, err := Sample(context.Background(), src, b, 8)
			if err != nil {
				t.Fatal(err)
			}
			nodata := map[int]bool{}
			for _, c := range tt.want {
				nodata[c] = true
			}
			for x := 0; x < 8; x++ {
				v := g.At(x, 4)
				if nodata[x] && !math.IsNaN(v) {
					t.Errorf("column %d = %v, want nodata", x, v)
				}
				if !nodata[x] && v != 10 {
					t.Errorf("column %d = %v, want 10", x, v)
				}
			}
		})
	}
}

// brokenSource fails every read.
type brokenSource struct {
	raster.Source
	reads int
}

func (b *brokenSource) ReadWindow(context.Context, int, image.Rectangle) (*raster.Window, error) {
	b.reads++
	return nil, errors.New("corrupt block")
}

func TestSample_OutsideSourceSkipsRead(t *testing.T) {
	far := tileBound(t, maptile.New(0, 0, 10))
	src := &brokenSource{Source: rastertest.Constant(far, 4, 4, 1)}

	g, err := Sample(context.Background(), src, tileBound(t, testTile), 8)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !g.Empty() || src.reads != 0 {
		t.Errorf("defined=%d reads=%d, want 0/0", g.Defined(), src.reads)
	}
}

func TestSample_ReadFailureIsUnreadable(t *testing.T) {
	b := tileBound(t, testTile)
	src := &brokenSource{Source: rastertest.Constant(b, 4, 4, 1)}

	_, err := Sample(context.Background(), src, b, 8)
	if !errors.Is(err, raster.ErrSourceUnreadable) {
		t.Errorf("err = %v, want ErrSourceUnreadable", err)
	}
}

func TestSample_Reprojected(t *testing.T) {
	tests := []struct {
		name string
		lon  float64
		lat  float64
		info raster.Info
	}{
		{
			name: "lonlat",
			lon:  7.5, lat: 46.5,
			info: raster.Info{Width: 100, Height: 100, Transform: raster.NewGeoTransform(7, 47, 0.01, 0.01), EPSG: 4326},
		},
		{
			name: "lv95",
			lon:  7.4386, lat: 46.9511,
			info: raster.Info{Width: 200, Height: 200, Transform: raster.NewGeoTransform(2_590_000, 1_210_000, 100, 100), EPSG: 2056},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]float32, tt.info.Width*tt.info.Height)
			for i := range values {
				values[i] = 540
			}
			src, err := raster.NewGrid(tt.info, values)
			if err != nil {
				t.Fatal(err)
			}
			tl := maptile.At(orb.Point{tt.lon, tt.lat}, 12)

			g, err := Sample(context.Background(), src, tileBound(t, tl), 16)
			if err != nil {
				t.Fatal(err)
			}
			if !g.Full() || g.At(7, 7) != 540 {
				t.Errorf("defined=%d At(7,7)=%v", g.Defined(), g.At(7, 7))
			}
		})
	}
}

func TestSample_UnsupportedCRS(t *testing.T) {
	b := tileBound(t, testTile)
	src, err := raster.NewGrid(raster.Info{Width: 1, Height: 1, Transform: raster.NewGeoTransform(0, 1, 1, 1), EPSG: 32632}, []float32{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Sample(context.Background(), src, b, 4); !errors.Is(err, raster.ErrSourceUnreadable) {
		t.Errorf("err = %v, want ErrSourceUnreadable", err)
	}
}
