package raster

import (
	"context"
	"fmt"
	"image"
)

// Grid is a single-level source held fully in memory. ASCII grids and SRTM
// tiles are small enough to load whole.
type Grid struct {
	info   Info
	values []float32
}

// NewGrid wraps row-major values. Overview levels in info are ignored.
func NewGrid(info Info, values []float32) (*Grid, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("grid size %dx%d", info.Width, info.Height)
	}
	if len(values) != info.Width*info.Height {
		return nil, fmt.Errorf("grid has %d values, want %dx%d", len(values), info.Width, info.Height)
	}
	if err := info.Transform.Validate(); err != nil {
		return nil, err
	}
	info.Levels = nil
	return &Grid{info: info, values: values}, nil
}

func (g *Grid) Info() Info { return g.info }

func (g *Grid) ReadWindow(ctx context.Context, level int, r image.Rectangle) (*Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWindow(g.info, level, r); err != nil {
		return nil, err
	}
	w := r.Dx()
	out := make([]float32, w*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := g.values[y*g.info.Width+r.Min.X : y*g.info.Width+r.Max.X]
		copy(out[(y-r.Min.Y)*w:], src)
	}
	return &Window{Rect: r, Values: out}, nil
}

func (g *Grid) Close() error { return nil }
