// Package rastertest provides in-memory sources for pipeline tests.
package rastertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"

	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

// Opener serves sources from memory. Names listed in Errors fail to open.
type Opener struct {
	mu      sync.Mutex
	Sources map[string]raster.Source
	Errors  map[string]error

	opens atomic.Int64
}

// NewOpener returns an empty Opener.
func NewOpener() *Opener {
	return &Opener{Sources: map[string]raster.Source{}, Errors: map[string]error{}}
}

// Add registers src under name.
func (o *Opener) Add(name string, src raster.Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Sources[name] = src
}

// Fail makes name fail to open with err.
func (o *Opener) Fail(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Errors[name] = err
}

// Opens returns how many Open calls reached the opener.
func (o *Opener) Opens() int64 {
	return o.opens.Load()
}

func (o *Opener) Open(ctx context.Context, name string) (raster.Source, error) {
	o.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.Errors[name]; ok {
		return nil, fmt.Errorf("%w: %s: %w", raster.ErrSourceUnreadable, name, err)
	}
	src, ok := o.Sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: not found", raster.ErrSourceUnreadable, name)
	}
	return src, nil
}

// Fill returns a width x height grid over b (EPSG:3857) whose values come
// from f, called with pixel column and row.
func Fill(b orb.Bound, width, height int, f func(x, y int) float32) *raster.Grid {
	values := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			values[y*width+x] = f(x, y)
		}
	}
	info := raster.Info{
		Width:  width,
		Height: height,
		Transform: raster.NewGeoTransform(b.Min[0], b.Max[1],
			(b.Max[0]-b.Min[0])/float64(width), (b.Max[1]-b.Min[1])/float64(height)),
		EPSG: 3857,
	}
	g, err := raster.NewGrid(info, values)
	if err != nil {
		panic(err)
	}
	return g
}

// Constant returns a width x height grid over b holding v everywhere.
func Constant(b orb.Bound, width, height int, v float32) *raster.Grid {
	return Fill(b, width, height, func(int, int) float32 { return v })
}
