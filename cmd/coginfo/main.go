package main

import (
	"fmt"
	"math"
	"os"

	"github.com/pspoerri/terrarium2pmtiles/internal/cog"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: coginfo <file.tif>\n")
		os.Exit(1)
	}

	r, err := cog.Open(os.Args[1], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	geo := r.GeoInfo()
	fmt.Printf("File: %s\n", os.Args[1])
	fmt.Printf("EPSG: %d\n", r.EPSG())
	fmt.Printf("Full-res size: %d x %d\n", r.Width(), r.Height())
	fmt.Printf("Pixel size (CRS units): %f x %f\n", geo.PixelSizeX, geo.PixelSizeY)
	fmt.Printf("Origin: X=%f, Y=%f\n", geo.OriginX, geo.OriginY)
	if geo.HasNoData {
		fmt.Printf("NoData: %g\n", geo.NoData)
	}

	minX, minY, maxX, maxY := r.BoundsInCRS()
	fmt.Printf("Bounds (CRS): X=[%f, %f], Y=[%f, %f]\n", minX, maxX, minY, maxY)

	src, err := raster.OpenGeoTIFF(os.Args[1], nil)
	if err == nil {
		if b, err := raster.MercatorBounds(src.Info()); err == nil {
			fmt.Printf("Bounds (EPSG:3857): X=[%f, %f], Y=[%f, %f]\n", b.Min[0], b.Max[0], b.Min[1], b.Max[1])
		} else {
			fmt.Printf("Bounds (EPSG:3857): ERROR: %v\n", err)
		}
		src.Close()
	}

	// Read the first block of every level to check decoding.
	for level := 0; level <= r.NumOverviews(); level++ {
		w, h := r.LevelSize(level)
		fmt.Printf("\n  Level %d: %dx%d, pixel size=%f\n", level, w, h, r.LevelPixelSize(level))

		block, err := r.ReadBlock(level, 0, 0)
		if err != nil {
			fmt.Printf("  ReadBlock(level=%d, 0, 0): ERROR: %v\n", level, err)
			continue
		}
		fmt.Printf("  ReadBlock(level=%d, 0, 0): OK, %dx%d\n", level, block.Width, block.Height)
		if level == 0 {
			sampleValues(block, geo, 5)
		}
	}
}

func sampleValues(b *cog.Block, geo cog.GeoInfo, count int) {
	step := b.Width / (count + 1)
	if step < 1 {
		step = 1
	}
	fmt.Printf("  Sample values (diagonal):\n")
	for i := 0; i < count; i++ {
		x := (i + 1) * step
		y := (i + 1) * step
		if x >= b.Width || y >= b.Height {
			break
		}
		v := b.At(x, y)
		switch {
		case math.IsNaN(float64(v)), geo.HasNoData && float64(v) == geo.NoData:
			fmt.Printf("    (%d,%d): nodata\n", x, y)
		default:
			fmt.Printf("    (%d,%d): %g\n", x, y, v)
		}
	}
}
