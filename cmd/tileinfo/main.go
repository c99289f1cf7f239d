package main

import (
	"fmt"
	"math"
	"os"
	"sort"

	gopmtiles "github.com/protomaps/go-pmtiles/pmtiles"

	"github.com/pspoerri/terrarium2pmtiles/internal/encode"
	"github.com/pspoerri/terrarium2pmtiles/internal/pmtiles"
)

func main() {
	if len(os.Args) != 2 && len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: tileinfo <archive.pmtiles> [z/x/y]\n")
		os.Exit(1)
	}

	r, err := pmtiles.OpenReader(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	h := r.Header()
	fmt.Printf("File: %s\n", os.Args[1])
	fmt.Printf("Tile type: %s\n", formatFor(h.TileType))
	fmt.Printf("Zoom: %d - %d\n", h.MinZoom, h.MaxZoom)
	fmt.Printf("Bounds: lon [%.6f, %.6f], lat [%.6f, %.6f]\n",
		float64(h.MinLonE7)/1e7, float64(h.MaxLonE7)/1e7,
		float64(h.MinLatE7)/1e7, float64(h.MaxLatE7)/1e7)
	fmt.Printf("Tiles: %d addressed, %d entries, %d unique\n",
		h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount)
	for z := int(h.MinZoom); z <= int(h.MaxZoom); z++ {
		fmt.Printf("  z%-2d %d tiles\n", z, len(r.TilesAtZoom(z)))
	}

	meta, err := r.ReadMetadata()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("Metadata:\n")
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, meta[k])
	}

	if len(os.Args) == 3 {
		if err := describeTile(r, os.Args[2], formatFor(h.TileType)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func formatFor(t gopmtiles.TileType) string {
	switch t {
	case gopmtiles.Png:
		return "png"
	case gopmtiles.Webp:
		return "webp"
	default:
		return fmt.Sprintf("unknown (%d)", t)
	}
}

// describeTile prints elevation statistics for one tile.
func describeTile(r *pmtiles.Reader, zxy, format string) error {
	var z, x, y int
	if _, err := fmt.Sscanf(zxy, "%d/%d/%d", &z, &x, &y); err != nil {
		return fmt.Errorf("parsing tile %q: %w", zxy, err)
	}
	data, err := r.ReadTile(z, x, y)
	if err != nil {
		return err
	}
	if data == nil {
		fmt.Printf("\nTile %d/%d/%d: not in archive\n", z, x, y)
		return nil
	}
	values, size, err := encode.DecodeElevations(data, format)
	if err != nil {
		return err
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var sum float64
	var defined int
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		defined++
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	fmt.Printf("\nTile %d/%d/%d: %d bytes, %dx%d px\n", z, x, y, len(data), size, size)
	fmt.Printf("  Defined: %d of %d pixels\n", defined, len(values))
	if defined > 0 {
		fmt.Printf("  Elevation: min %.2f m, max %.2f m, mean %.2f m\n", lo, hi, sum/float64(defined))
		fmt.Printf("  Vertical step: %g m\n", encode.VerticalRoundingFactor(z))
	}
	return nil
}
